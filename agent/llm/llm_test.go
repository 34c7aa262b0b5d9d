package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	geminix "github.com/tanpawarit/Agent-Before-Ambulance/pkg/gemini"
	openrouterx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/openrouter"
	"github.com/tanpawarit/Agent-Before-Ambulance/pkg/retry"
	"google.golang.org/genai"
)

type flakyModel struct {
	failures int
	err      error
	calls    int
	bound    []*schema.ToolInfo
}

func (f *flakyModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return schema.AssistantMessage("ok", nil), nil
}

func (f *flakyModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *flakyModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.bound = tools
	return f, nil
}

func fastPolicy(maxRetries int) *retry.Policy {
	return retry.NewPolicy(retry.Config{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}, Classifier())
}

func TestResilientRetriesQuotaErrors(t *testing.T) {
	t.Parallel()

	inner := &flakyModel{failures: 2, err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}}
	m := Resilient(inner, fastPolicy(3))

	out, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Content)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientSurfacesExhaustion(t *testing.T) {
	t.Parallel()

	inner := &flakyModel{failures: 10, err: genai.APIError{Code: 429}}
	m := Resilient(inner, fastPolicy(2))

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrRetriesExhausted)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	inner := &flakyModel{failures: 10, err: genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}}
	m := Resilient(inner, fastPolicy(3))

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestResilientWithToolsKeepsWrapper(t *testing.T) {
	t.Parallel()

	inner := &flakyModel{failures: 1, err: retry.MarkTransient(errors.New("busy"))}
	m := Resilient(inner, fastPolicy(1))

	bound, err := m.WithTools([]*schema.ToolInfo{{Name: "geocode_location"}})
	require.NoError(t, err)
	require.Len(t, inner.bound, 1)

	_, err = bound.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestConfigOverrides(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Provider:            ProviderGemini,
		TriageModel:         "gemini-fast",
		TriageTemperature:   0,
		FirstAidTemperature: -1,
		TriageMaxRetries:    2,
		TriageRetryDelay:    500 * time.Millisecond,
	}
	base := geminix.Config{APIKey: "k", Model: "gemini-2.0-flash", Temperature: 0.4}

	triage := cfg.GeminiFor(base, contractx.CapabilityTriage)
	assert.Equal(t, "gemini-fast", triage.Model)
	assert.Equal(t, float32(0), triage.Temperature)

	firstAid := cfg.GeminiFor(base, contractx.CapabilityFirstAid)
	assert.Equal(t, "gemini-2.0-flash", firstAid.Model)
	assert.Equal(t, float32(0.4), firstAid.Temperature)

	or := cfg.OpenRouterFor(openrouterx.Config{Model: "openai/gpt-4o-mini"}, contractx.CapabilityTriage)
	assert.Equal(t, "gemini-fast", or.Model)

	shared := retry.Config{MaxRetries: 3, InitialDelay: 2 * time.Second}
	assert.Equal(t, 2, cfg.RetryFor(shared, contractx.CapabilityTriage).MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryFor(shared, contractx.CapabilityTriage).InitialDelay)
	assert.Equal(t, shared, cfg.RetryFor(shared, contractx.CapabilityDispatch))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	gem := &geminix.Config{APIKey: "k"}
	assert.NoError(t, Config{Provider: "gemini"}.Validate(Providers{Gemini: gem}))
	assert.ErrorIs(t, Config{Provider: "gemini"}.Validate(Providers{}), contractx.ErrValidation)
	assert.ErrorIs(t, Config{Provider: "openrouter"}.Validate(Providers{OpenRouter: &openrouterx.Config{APIKey: "k"}}), contractx.ErrValidation)
	assert.ErrorIs(t, Config{Provider: "llama"}.Validate(Providers{Gemini: gem}), contractx.ErrValidation)
}
