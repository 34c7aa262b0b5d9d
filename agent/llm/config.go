package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	geminix "github.com/tanpawarit/Agent-Before-Ambulance/pkg/gemini"
	openrouterx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/openrouter"
	"github.com/tanpawarit/Agent-Before-Ambulance/pkg/retry"
)

const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// Config selects the provider and per-capability overrides. Provider
// credentials live in their own prefixes (GEMINI_*, OPENROUTER_*).
type Config struct {
	Provider string `envconfig:"PROVIDER" split_words:"true" default:"gemini"`

	TriageModel   string `envconfig:"TRIAGE_MODEL" split_words:"true"`
	LocationModel string `envconfig:"LOCATION_MODEL" split_words:"true"`
	DispatchModel string `envconfig:"DISPATCH_MODEL" split_words:"true"`
	FirstAidModel string `envconfig:"FIRST_AID_MODEL" split_words:"true"`

	TriageTemperature   float32 `envconfig:"TRIAGE_TEMPERATURE" split_words:"true" default:"-1"`
	LocationTemperature float32 `envconfig:"LOCATION_TEMPERATURE" split_words:"true" default:"-1"`
	DispatchTemperature float32 `envconfig:"DISPATCH_TEMPERATURE" split_words:"true" default:"-1"`
	FirstAidTemperature float32 `envconfig:"FIRST_AID_TEMPERATURE" split_words:"true" default:"-1"`

	// Triage is the first call of a conversation, so it gives up sooner.
	TriageMaxRetries int           `envconfig:"TRIAGE_MAX_RETRIES" split_words:"true" default:"2"`
	TriageRetryDelay time.Duration `envconfig:"TRIAGE_RETRY_DELAY" split_words:"true" default:"500ms"`
}

// Providers carries whichever provider config was loaded.
type Providers struct {
	Gemini     *geminix.Config
	OpenRouter *openrouterx.Config
}

func (c Config) Validate(p Providers) error {
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case ProviderGemini:
		if p.Gemini == nil || strings.TrimSpace(p.Gemini.APIKey) == "" {
			return fmt.Errorf("%w: gemini api key is required", contractx.ErrValidation)
		}
	case ProviderOpenRouter:
		if p.OpenRouter == nil || strings.TrimSpace(p.OpenRouter.APIKey) == "" {
			return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
		}
		if strings.TrimSpace(p.OpenRouter.Model) == "" {
			return fmt.Errorf("%w: openrouter default model is required", contractx.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown llm provider %q", contractx.ErrValidation, c.Provider)
	}
	if c.TriageMaxRetries < 0 {
		return fmt.Errorf("%w: triage max retries must be >= 0", contractx.ErrValidation)
	}
	return nil
}

func (c Config) overrides(capability contractx.Capability) (string, float32) {
	switch capability {
	case contractx.CapabilityTriage:
		return strings.TrimSpace(c.TriageModel), c.TriageTemperature
	case contractx.CapabilityLocation:
		return strings.TrimSpace(c.LocationModel), c.LocationTemperature
	case contractx.CapabilityDispatch:
		return strings.TrimSpace(c.DispatchModel), c.DispatchTemperature
	case contractx.CapabilityFirstAid:
		return strings.TrimSpace(c.FirstAidModel), c.FirstAidTemperature
	}
	return "", -1
}

// GeminiFor returns the Gemini config with capability overrides applied.
func (c Config) GeminiFor(base geminix.Config, capability contractx.Capability) geminix.Config {
	out := base
	name, temp := c.overrides(capability)
	if name != "" {
		out.Model = name
	}
	if temp >= 0 {
		out.Temperature = temp
	}
	return out
}

// OpenRouterFor returns the OpenRouter config with capability overrides applied.
func (c Config) OpenRouterFor(base openrouterx.Config, capability contractx.Capability) openrouterx.Config {
	out := base
	name, temp := c.overrides(capability)
	if name != "" {
		out.Model = name
	}
	if temp >= 0 {
		out.Temperature = temp
	}
	return out
}

// RetryFor derives the per-capability retry schedule from the shared one.
func (c Config) RetryFor(base retry.Config, capability contractx.Capability) retry.Config {
	out := base
	if capability == contractx.CapabilityTriage {
		out.MaxRetries = c.TriageMaxRetries
		if c.TriageRetryDelay > 0 {
			out.InitialDelay = c.TriageRetryDelay
		}
	}
	return out
}

// NewChatModel builds the provider model for one capability.
func (c Config) NewChatModel(ctx context.Context, p Providers, capability contractx.Capability) (model.ToolCallingChatModel, error) {
	var builder openrouterx.LLMBuilder
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case ProviderGemini:
		if p.Gemini == nil {
			return nil, fmt.Errorf("%w: gemini config missing", contractx.ErrValidation)
		}
		builder = c.GeminiFor(*p.Gemini, capability)
	case ProviderOpenRouter:
		if p.OpenRouter == nil {
			return nil, fmt.Errorf("%w: openrouter config missing", contractx.ErrValidation)
		}
		conf := c.OpenRouterFor(*p.OpenRouter, capability)
		builder = &conf
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", contractx.ErrValidation, c.Provider)
	}

	m, err := builder.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, capability, err)
	}
	return m, nil
}
