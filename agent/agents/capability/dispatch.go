package capability

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
	toolx "github.com/tanpawarit/Agent-Before-Ambulance/agent/tool"
)

var _ contractx.Dispatcher = (*dispatcherImpl)(nil)

// dispatcherImpl lets the model narrate the dispatch, but the receipt always
// comes from the dispatch service. If the model never calls the tool, the
// tool is called directly.
type dispatcherImpl struct {
	gateway  contractx.ToolGateway
	exchange *toolExchange
}

func newDispatcher(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	gateway contractx.ToolGateway,
	systemPrompt string,
) (*dispatcherImpl, error) {
	x, err := newToolExchange(ctx, contractx.CapabilityDispatch, chatModel, gateway,
		toolx.InfosFor(contractx.CapabilityDispatch), systemPrompt)
	if err != nil {
		return nil, err
	}
	return &dispatcherImpl{gateway: gateway, exchange: x}, nil
}

func (d *dispatcherImpl) Dispatch(ctx context.Context, req contractx.DispatchRequest) (contractx.DispatchResult, error) {
	injury := strings.TrimSpace(req.InjuryType)
	address := strings.TrimSpace(req.Location.Address)
	if injury == "" || address == "" {
		return contractx.DispatchResult{}, fmt.Errorf("%w: dispatch needs injury and location", contractx.ErrPrecondition)
	}

	vars, err := templateVars(req.History, map[string]any{
		"session_id":  req.SessionID,
		"injury_type": injury,
		"location":    req.Location,
	})
	if err != nil {
		return contractx.DispatchResult{}, err
	}

	// The model only chooses to call the tool; where the ambulance goes is
	// fixed by the session state.
	res, err := d.exchange.run(withArgRewriter(ctx, pinDispatchArgs(req.Location, injury)), vars)
	if err != nil {
		return contractx.DispatchResult{}, err
	}

	receipt, ok := receiptFrom(res.Results)
	if !ok {
		log.Warn().
			Err(res.ModelErr).
			Str("session_id", req.SessionID).
			Msg("dispatch tool not called by model, dispatching directly")
		receipt, err = d.dispatchDirect(ctx, req.Location, injury)
		if err != nil {
			return contractx.DispatchResult{}, err
		}
		return contractx.DispatchResult{Outcome: contractx.OutcomeFallback, Receipt: receipt, Raw: res.Content}, nil
	}

	if res.ModelErr != nil || res.Malformed || res.Content == "" {
		if res.ModelErr != nil {
			log.Warn().Err(res.ModelErr).Str("dispatch_id", receipt.ID).Msg("dispatch narration failed")
		}
		return contractx.DispatchResult{Outcome: contractx.OutcomeFallback, Receipt: receipt, Raw: res.Content}, nil
	}
	return contractx.DispatchResult{
		Outcome:   contractx.OutcomeOK,
		Receipt:   receipt,
		Narrative: res.Content,
		Raw:       res.Content,
	}, nil
}

func (d *dispatcherImpl) dispatchDirect(ctx context.Context, loc statex.Location, injury string) (statex.DispatchReceipt, error) {
	results, err := d.gateway.Execute(ctx, contractx.CapabilityDispatch, []contractx.ToolRequest{{
		ID:   "dispatch_direct",
		Tool: toolx.ToolDispatchAmbulance,
		Args: dispatchArgs(loc, injury),
	}})
	if err != nil {
		return statex.DispatchReceipt{}, err
	}
	if receipt, ok := receiptFrom(results); ok {
		return receipt, nil
	}
	msg := "no receipt returned"
	if len(results) > 0 && results[0].Error != "" {
		msg = results[0].Error
	}
	return statex.DispatchReceipt{}, fmt.Errorf("%w: %s", contractx.ErrToolExecution, msg)
}

func pinDispatchArgs(loc statex.Location, injury string) argRewriter {
	return func(req *contractx.ToolRequest) {
		if req.Tool != toolx.ToolDispatchAmbulance {
			return
		}
		req.Args = dispatchArgs(loc, injury)
	}
}

func dispatchArgs(loc statex.Location, injury string) map[string]any {
	args := map[string]any{
		"location": loc.Address,
		"injury":   injury,
	}
	if loc.Lat != nil && loc.Lon != nil {
		args["lat"] = *loc.Lat
		args["lon"] = *loc.Lon
	}
	return args
}

func receiptFrom(results []contractx.ToolResult) (statex.DispatchReceipt, bool) {
	for _, r := range results {
		if r.Tool != toolx.ToolDispatchAmbulance || r.Error != "" {
			continue
		}
		if receipt, ok := r.Result.(statex.DispatchReceipt); ok && receipt.ID != "" {
			return receipt, true
		}
	}
	return statex.DispatchReceipt{}, false
}
