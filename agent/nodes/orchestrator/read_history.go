package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
)

// ReadHistory snapshots the transcript passed to capabilities. The current
// message is not part of it yet; capabilities receive it separately.
func ReadHistory(in *GraphState, window int) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	in.History = in.Session.RecentHistory(window)
	return in, nil
}
