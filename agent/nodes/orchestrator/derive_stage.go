package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

func DeriveStage(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	in.Stage = statex.DeriveStage(in.Session, in.Text)
	return in, nil
}

// NodeFor maps a stage to the graph node that handles it.
func NodeFor(stage statex.Stage) (string, error) {
	switch stage {
	case statex.StageGreeting:
		return NodeGreet, nil
	case statex.StageTriage:
		return NodeTriage, nil
	case statex.StageLocation:
		return NodeLocate, nil
	case statex.StageDispatch:
		return NodeDispatch, nil
	case statex.StageFirstAid:
		return NodeFirstAid, nil
	}
	return "", fmt.Errorf("%w: unknown stage %q", contractx.ErrValidation, stage)
}

const (
	NodeGreet    = "greet"
	NodeTriage   = "triage"
	NodeLocate   = "locate"
	NodeDispatch = "dispatch"
	NodeFirstAid = "first_aid"
)
