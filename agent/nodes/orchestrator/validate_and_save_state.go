package orchestratornode

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

// dispatchSaveTimeout bounds the save that records a new dispatch once it is
// detached from the caller's context.
const dispatchSaveTimeout = 10 * time.Second

func ValidateAndSaveState(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Session.Touch(in.Now)
	if err := in.Session.Validate(); err != nil {
		return nil, fmt.Errorf("state validation failed: %w", err)
	}
	if err := in.Session.CheckTransition(in.Prev); err != nil {
		return nil, fmt.Errorf("state transition rejected: %w", err)
	}

	// A dispatch issued this turn has already happened. Losing it to a
	// cancelled or expired request would let the next turn dispatch again.
	saveCtx := ctx
	if in.Session.AmbulanceDispatched && (in.Prev == nil || !in.Prev.AmbulanceDispatched) {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), dispatchSaveTimeout)
		defer cancel()
	}
	if err := store.Save(saveCtx, in.Session); err != nil {
		return nil, err
	}

	return in, nil
}
