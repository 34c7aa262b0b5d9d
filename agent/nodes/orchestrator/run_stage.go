package orchestratornode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
	metricsx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/metrics"
)

const outcomeGreeted = "greeted"

func Greet(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	in.Session.StartIncident()
	in.Reply = GreetingReply
	in.Outcome = outcomeGreeted
	return in, nil
}

func RunTriage(
	ctx context.Context,
	in *GraphState,
	triage contractx.Triage,
	rec *metricsx.Recorder,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	start := time.Now()
	res, err := triage.Classify(ctx, contractx.TriageRequest{Message: in.Text, History: in.History})
	rec.ObserveCapability(string(contractx.CapabilityTriage), outcomeLabel(res.Outcome, err), time.Since(start))
	if err != nil {
		return nil, err
	}
	in.Outcome = string(res.Outcome)

	st := in.Session
	if res.Outcome != contractx.OutcomeOK {
		// Severity stays unknown so the next message is triaged again.
		if st.InjuryType == "" {
			st.InjuryType = res.AccidentType
		}
		in.Reply = TriageRetryReply
		return in, nil
	}

	st.ApplySeverity(res.Severity)
	if res.AccidentType != "unknown" || st.InjuryType == "" {
		st.InjuryType = res.AccidentType
	}
	in.Reply = triageReply(st)
	return in, nil
}

func RunLocate(
	ctx context.Context,
	in *GraphState,
	locator contractx.Locator,
	dispatcher contractx.Dispatcher,
	rec *metricsx.Recorder,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	start := time.Now()
	res, err := locator.Locate(ctx, contractx.LocationRequest{Message: in.Text, History: in.History})
	rec.ObserveCapability(string(contractx.CapabilityLocation), outcomeLabel(res.Outcome, err), time.Since(start))
	if err != nil {
		return nil, err
	}
	in.Outcome = string(res.Outcome)

	address := strings.TrimSpace(res.Address)
	if res.Outcome == contractx.OutcomeNotFound || address == "" {
		in.Reply = LocationNotFoundReply
		return in, nil
	}

	loc := res.Location()
	loc.Address = address
	st := in.Session
	st.SetLocation(loc)

	reply := fmt.Sprintf("I have your location: %s.", address)
	if st.NeedsAmbulance() && !st.AmbulanceDispatched {
		receipt, err := dispatchOnce(ctx, in, dispatcher, rec)
		if err != nil {
			return nil, err
		}
		reply += " " + dispatchSentence(receipt)
	} else {
		reply += FocusFirstAid
	}
	in.Reply = reply
	return in, nil
}

func RunDispatch(
	ctx context.Context,
	in *GraphState,
	dispatcher contractx.Dispatcher,
	rec *metricsx.Recorder,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	receipt, err := dispatchOnce(ctx, in, dispatcher, rec)
	if err != nil {
		return nil, err
	}
	in.Reply = dispatchSentence(receipt)
	return in, nil
}

// dispatchOnce is the only caller of the dispatcher. The flag is checked right
// before the call and set in the same state object right after it.
func dispatchOnce(
	ctx context.Context,
	in *GraphState,
	dispatcher contractx.Dispatcher,
	rec *metricsx.Recorder,
) (statex.DispatchReceipt, error) {
	st := in.Session
	if st.AmbulanceDispatched {
		return statex.DispatchReceipt{}, statex.ErrAlreadyDispatched
	}
	if !st.HasLocation() || strings.TrimSpace(st.InjuryType) == "" {
		return statex.DispatchReceipt{}, fmt.Errorf("%w: dispatch needs injury and location", contractx.ErrPrecondition)
	}

	start := time.Now()
	res, err := dispatcher.Dispatch(ctx, contractx.DispatchRequest{
		SessionID:  st.SessionID,
		InjuryType: st.InjuryType,
		Location:   *st.Location,
		History:    in.History,
	})
	rec.ObserveCapability(string(contractx.CapabilityDispatch), outcomeLabel(res.Outcome, err), time.Since(start))
	if err != nil {
		return statex.DispatchReceipt{}, err
	}
	if err := st.RecordDispatch(res.Receipt); err != nil {
		return statex.DispatchReceipt{}, err
	}
	rec.IncDispatch()
	in.Outcome = string(res.Outcome)

	log.Info().
		Str("session_id", st.SessionID).
		Str("dispatch_id", res.Receipt.ID).
		Int("eta_minutes", res.Receipt.ETAMinutes).
		Str("narrative", res.Narrative).
		Msg("ambulance dispatched")
	return res.Receipt, nil
}

func RunFirstAid(
	ctx context.Context,
	in *GraphState,
	guide contractx.FirstAid,
	rec *metricsx.Recorder,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	st := in.Session
	start := time.Now()
	res, err := guide.Guide(ctx, contractx.FirstAidRequest{
		Message:    in.Text,
		InjuryType: st.InjuryType,
		StepIndex:  st.StepIndex,
		History:    in.History,
	})
	rec.ObserveCapability(string(contractx.CapabilityFirstAid), outcomeLabel(res.Outcome, err), time.Since(start))
	if err != nil {
		return nil, err
	}
	in.Outcome = string(res.Outcome)

	st.AdvanceStep(res.NextStepIndex)
	reply := res.Instruction
	if res.Completed {
		reply += FirstAidDoneSuffix
	}
	in.Reply = reply
	return in, nil
}

func outcomeLabel(o contractx.Outcome, err error) string {
	if err != nil {
		return "error"
	}
	return string(o)
}
