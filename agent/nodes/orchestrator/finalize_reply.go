package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: stage %s produced an empty reply", contractx.ErrValidation, in.Stage)
	}
	return GraphOutput{
		Reply:   reply,
		Stage:   in.Stage,
		Outcome: in.Outcome,
		State:   in.Session,
	}, nil
}
