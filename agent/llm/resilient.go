package llm

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	geminix "github.com/tanpawarit/Agent-Before-Ambulance/pkg/gemini"
	openrouterx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/openrouter"
	"github.com/tanpawarit/Agent-Before-Ambulance/pkg/retry"
)

// Classifier accepts transient failures from every supported provider.
func Classifier() retry.Classifier {
	return retry.AnyOf(retry.IsTransient, geminix.IsTransient, openrouterx.IsTransient)
}

var _ model.ToolCallingChatModel = (*resilientModel)(nil)

// resilientModel retries each model round-trip on its own. Tool execution
// happens outside the model, so a retry never repeats a side effect.
type resilientModel struct {
	inner  model.ToolCallingChatModel
	policy *retry.Policy
}

func Resilient(inner model.ToolCallingChatModel, policy *retry.Policy) model.ToolCallingChatModel {
	if policy == nil {
		return inner
	}
	return &resilientModel{inner: inner, policy: policy}
}

func (r *resilientModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) (*schema.Message, error) {
		return r.inner.Generate(ctx, input, opts...)
	})
}

// Stream is not retried: the per-attempt deadline would cut the reader short.
func (r *resilientModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return r.inner.Stream(ctx, input, opts...)
}

func (r *resilientModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := r.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &resilientModel{inner: bound, policy: r.policy}, nil
}
