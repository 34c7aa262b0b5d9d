package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

// WriteHistory appends the user message and the reply to the transcript.
func WriteHistory(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	in.Session.AppendTurn(statex.RoleUser, in.Text, in.Now)
	in.Session.AppendTurn(statex.RoleAssistant, in.Reply, in.Now)
	return in, nil
}
