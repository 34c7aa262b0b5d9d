package capability

import (
	"context"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	llmx "github.com/tanpawarit/Agent-Before-Ambulance/agent/llm"
	promptx "github.com/tanpawarit/Agent-Before-Ambulance/agent/prompt"
	metricsx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/metrics"
	"github.com/tanpawarit/Agent-Before-Ambulance/pkg/retry"
)

type registryImpl struct {
	triage     contractx.Triage
	locator    contractx.Locator
	dispatcher contractx.Dispatcher
	firstAid   contractx.FirstAid
}

func (r *registryImpl) Triage() contractx.Triage {
	return r.triage
}

func (r *registryImpl) Locator() contractx.Locator {
	return r.locator
}

func (r *registryImpl) Dispatcher() contractx.Dispatcher {
	return r.dispatcher
}

func (r *registryImpl) FirstAid() contractx.FirstAid {
	return r.firstAid
}

type Deps struct {
	LLM       llmx.Config
	Providers llmx.Providers
	Retry     retry.Config
	Gateway   contractx.ToolGateway
	Recorder  *metricsx.Recorder
}

var capabilities = []contractx.Capability{
	contractx.CapabilityTriage,
	contractx.CapabilityLocation,
	contractx.CapabilityDispatch,
	contractx.CapabilityFirstAid,
}

// NewRegistry builds one provider model per capability, each behind its own
// retry policy.
func NewRegistry(ctx context.Context, deps Deps) (contractx.Registry, error) {
	if err := deps.LLM.Validate(deps.Providers); err != nil {
		return nil, err
	}

	base := retry.NewPolicy(deps.Retry, llmx.Classifier())
	models := make(map[contractx.Capability]einomodel.ToolCallingChatModel, len(capabilities))
	for _, c := range capabilities {
		m, err := deps.LLM.NewChatModel(ctx, deps.Providers, c)
		if err != nil {
			return nil, err
		}

		policy := base.WithConfig(deps.LLM.RetryFor(deps.Retry, c))
		recorder := deps.Recorder
		name := string(c)
		policy.OnRetry = func(int, time.Duration, error) {
			recorder.IncRetry(name)
		}
		models[c] = llmx.Resilient(m, policy)
	}

	return newRegistryFromModels(ctx, models, deps.Gateway, promptx.LoadPromptSet())
}

func newRegistryFromModels(
	ctx context.Context,
	models map[contractx.Capability]einomodel.ToolCallingChatModel,
	gateway contractx.ToolGateway,
	prompts promptx.PromptSet,
) (*registryImpl, error) {
	if err := prompts.Validate(); err != nil {
		return nil, err
	}
	for _, c := range capabilities {
		if models[c] == nil {
			return nil, fmt.Errorf("%w: no model for %s", contractx.ErrValidation, c)
		}
	}

	triage, err := newTriage(ctx, models[contractx.CapabilityTriage], prompts.Triage)
	if err != nil {
		return nil, err
	}
	locator, err := newLocator(ctx, models[contractx.CapabilityLocation], gateway, prompts.Location)
	if err != nil {
		return nil, err
	}
	dispatcher, err := newDispatcher(ctx, models[contractx.CapabilityDispatch], gateway, prompts.Dispatch)
	if err != nil {
		return nil, err
	}
	firstAid, err := newFirstAid(ctx, models[contractx.CapabilityFirstAid], prompts.FirstAid)
	if err != nil {
		return nil, err
	}

	return &registryImpl{
		triage:     triage,
		locator:    locator,
		dispatcher: dispatcher,
		firstAid:   firstAid,
	}, nil
}
