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
)

// DefaultFirstAidInstruction is used when the model returns nothing usable.
const DefaultFirstAidInstruction = "Stay with the injured person, keep them still and warm, and watch their breathing until help arrives."

var _ contractx.FirstAid = (*firstAidImpl)(nil)

type firstAidImpl struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

type firstAidLLMOutput struct {
	Instruction string `json:"instruction"`
	Completed   bool   `json:"completed"`
}

func newFirstAid(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*firstAidImpl, error) {
	runner, err := compileModelGraph(ctx, chatModel, systemPrompt, "first_aid.model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile first aid graph: %v", contractx.ErrModelInvoke, err)
	}
	return &firstAidImpl{runner: runner}, nil
}

func (f *firstAidImpl) Guide(ctx context.Context, req contractx.FirstAidRequest) (contractx.FirstAidResult, error) {
	if req.StepIndex < 0 {
		return contractx.FirstAidResult{}, fmt.Errorf("%w: step index %d", contractx.ErrValidation, req.StepIndex)
	}
	injury := strings.TrimSpace(req.InjuryType)
	if injury == "" {
		injury = unknownAccident
	}
	vars, err := templateVars(req.History, map[string]any{
		"message":     req.Message,
		"injury_type": injury,
		"step_index":  req.StepIndex,
	})
	if err != nil {
		return contractx.FirstAidResult{}, err
	}

	msg, err := f.runner.Invoke(ctx, vars)
	if err != nil {
		return contractx.FirstAidResult{}, invokeErr(contractx.CapabilityFirstAid, err)
	}
	raw := ""
	if msg != nil {
		raw = strings.TrimSpace(msg.Content)
	}

	next := req.StepIndex + 1
	out, err := parseJSON[firstAidLLMOutput](ctx, raw)
	if err != nil || strings.TrimSpace(out.Instruction) == "" {
		log.Warn().Err(err).Int("step_index", req.StepIndex).Msg("first aid output unusable, falling back")
		instruction := raw
		if instruction == "" || err == nil {
			instruction = DefaultFirstAidInstruction
		}
		return contractx.FirstAidResult{
			Outcome:       contractx.OutcomeFallback,
			Instruction:   instruction,
			NextStepIndex: next,
			Raw:           raw,
		}, nil
	}

	return contractx.FirstAidResult{
		Outcome:       contractx.OutcomeOK,
		Instruction:   strings.TrimSpace(out.Instruction),
		NextStepIndex: next,
		Completed:     out.Completed,
		Raw:           raw,
	}, nil
}
