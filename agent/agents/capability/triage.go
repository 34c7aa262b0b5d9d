package capability

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

const unknownAccident = "unknown"

var _ contractx.Triage = (*triageImpl)(nil)

type triageImpl struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

type triageLLMOutput struct {
	AccidentType      string `json:"accident_type"`
	Severity          int    `json:"severity"`
	DispatchAmbulance bool   `json:"dispatch_ambulance"`
	Reasoning         string `json:"reasoning"`
}

func newTriage(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*triageImpl, error) {
	runner, err := compileModelGraph(ctx, chatModel, systemPrompt, "triage.model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile triage graph: %v", contractx.ErrModelInvoke, err)
	}
	return &triageImpl{runner: runner}, nil
}

// Classify grades the message. Unusable model output is not an error: it
// yields a Fallback result and the caller keeps asking for details.
func (t *triageImpl) Classify(ctx context.Context, req contractx.TriageRequest) (contractx.TriageResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return contractx.TriageResult{}, fmt.Errorf("%w: triage message is empty", contractx.ErrValidation)
	}
	vars, err := templateVars(req.History, map[string]any{"message": req.Message})
	if err != nil {
		return contractx.TriageResult{}, err
	}

	msg, err := t.runner.Invoke(ctx, vars)
	if err != nil {
		return contractx.TriageResult{}, invokeErr(contractx.CapabilityTriage, err)
	}
	raw := ""
	if msg != nil {
		raw = strings.TrimSpace(msg.Content)
	}

	out, err := parseJSON[triageLLMOutput](ctx, raw)
	if err != nil {
		log.Warn().Err(err).Msg("triage output is not valid json")
		return triageFallback(raw), nil
	}
	if out.Severity < statex.MinSeverity {
		log.Warn().Int("severity", out.Severity).Msg("triage severity out of range")
		return triageFallback(raw), nil
	}

	accident := strings.TrimSpace(out.AccidentType)
	if accident == "" {
		accident = unknownAccident
	}
	severity := statex.ClampSeverity(out.Severity)
	return contractx.TriageResult{
		Outcome:           contractx.OutcomeOK,
		AccidentType:      accident,
		Severity:          severity,
		DispatchAmbulance: out.DispatchAmbulance || severity >= statex.DispatchThreshold,
		Reasoning:         strings.TrimSpace(out.Reasoning),
		Raw:               raw,
	}, nil
}

func triageFallback(raw string) contractx.TriageResult {
	return contractx.TriageResult{
		Outcome:      contractx.OutcomeFallback,
		AccidentType: unknownAccident,
		Raw:          raw,
	}
}
