package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
)

// exchangeResult is the outcome of one propose -> execute -> continue round.
// Model failures are reported in ModelErr rather than as a graph error, so
// results of tools that already ran are never lost. Gateway failures do fail
// the graph.
type exchangeResult struct {
	Content   string
	Results   []contractx.ToolResult
	Malformed bool
	ModelErr  error
}

type exchangeState struct {
	Messages []*schema.Message
	Proposal *schema.Message
	Requests []contractx.ToolRequest
	Result   exchangeResult
}

// argRewriter lets a capability pin tool arguments to facts it already holds.
// It travels on the context because the compiled graph is shared by all calls.
type argRewriter func(req *contractx.ToolRequest)

type argRewriterKey struct{}

func withArgRewriter(ctx context.Context, fn argRewriter) context.Context {
	return context.WithValue(ctx, argRewriterKey{}, fn)
}

type toolExchange struct {
	capability contractx.Capability
	model      einomodel.BaseChatModel
	gateway    contractx.ToolGateway
	runner     compose.Runnable[map[string]any, exchangeResult]
}

func newToolExchange(
	ctx context.Context,
	capability contractx.Capability,
	chatModel einomodel.ToolCallingChatModel,
	gateway contractx.ToolGateway,
	tools []*schema.ToolInfo,
	systemPrompt string,
) (*toolExchange, error) {
	if gateway == nil {
		return nil, fmt.Errorf("%w: %s requires a tool gateway", contractx.ErrValidation, capability)
	}
	bound, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools for %s: %v", contractx.ErrModelInvoke, capability, err)
	}

	x := &toolExchange{
		capability: capability,
		model:      bound,
		gateway:    gateway,
	}
	runner, err := x.compile(ctx, newTemplate(systemPrompt))
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s exchange graph: %v", contractx.ErrModelInvoke, capability, err)
	}
	x.runner = runner
	return x, nil
}

func (x *toolExchange) run(ctx context.Context, vars map[string]any) (exchangeResult, error) {
	return x.runner.Invoke(ctx, vars)
}

func (x *toolExchange) compile(ctx context.Context, template einoprompt.ChatTemplate) (compose.Runnable[map[string]any, exchangeResult], error) {
	graph := compose.NewGraph[map[string]any, exchangeResult]()

	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add exchange prompt node: %w", err)
	}
	if err := graph.AddLambdaNode("propose", compose.InvokableLambda(x.propose)); err != nil {
		return nil, fmt.Errorf("add exchange propose node: %w", err)
	}
	if err := graph.AddLambdaNode("execute_tools", compose.InvokableLambda(x.execute)); err != nil {
		return nil, fmt.Errorf("add exchange execute node: %w", err)
	}
	if err := graph.AddLambdaNode("finish", compose.InvokableLambda(
		func(ctx context.Context, in *exchangeState) (exchangeResult, error) {
			return in.Result, nil
		},
	)); err != nil {
		return nil, fmt.Errorf("add exchange finish node: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *exchangeState) (string, error) {
			if len(in.Requests) == 0 {
				return "finish", nil
			}
			return "execute_tools", nil
		},
		map[string]bool{
			"execute_tools": true,
			"finish":        true,
		},
	)

	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add exchange edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "propose"); err != nil {
		return nil, fmt.Errorf("add exchange edge prompt->propose: %w", err)
	}
	if err := graph.AddBranch("propose", branch); err != nil {
		return nil, fmt.Errorf("add exchange branch: %w", err)
	}
	if err := graph.AddEdge("execute_tools", compose.END); err != nil {
		return nil, fmt.Errorf("add exchange edge execute->end: %w", err)
	}
	if err := graph.AddEdge("finish", compose.END); err != nil {
		return nil, fmt.Errorf("add exchange edge finish->end: %w", err)
	}

	return graph.Compile(ctx, compose.WithGraphName(string(x.capability)+".exchange_graph"))
}

func (x *toolExchange) propose(ctx context.Context, msgs []*schema.Message) (*exchangeState, error) {
	st := &exchangeState{Messages: msgs}
	proposal, err := x.model.Generate(ctx, msgs)
	if err != nil {
		st.Result.ModelErr = invokeErr(x.capability, err)
		return st, nil
	}
	st.Proposal = proposal
	if proposal == nil {
		st.Result.Malformed = true
		return st, nil
	}
	st.Result.Content = strings.TrimSpace(proposal.Content)
	if len(proposal.ToolCalls) == 0 {
		return st, nil
	}

	reqs, err := toToolRequests(proposal.ToolCalls)
	if err != nil {
		log.Warn().Err(err).Str("capability", string(x.capability)).Msg("discarding malformed tool calls")
		st.Result.Malformed = true
		return st, nil
	}
	if rewrite, _ := ctx.Value(argRewriterKey{}).(argRewriter); rewrite != nil {
		for i := range reqs {
			rewrite(&reqs[i])
		}
	}
	st.Requests = reqs
	return st, nil
}

func (x *toolExchange) execute(ctx context.Context, in *exchangeState) (exchangeResult, error) {
	results, err := x.gateway.Execute(ctx, x.capability, in.Requests)
	if err != nil {
		return exchangeResult{}, err
	}

	follow := make([]*schema.Message, 0, len(in.Messages)+1+len(results))
	follow = append(follow, in.Messages...)
	follow = append(follow, in.Proposal)
	for _, res := range results {
		follow = append(follow, schema.ToolMessage(toolContent(res), res.ID))
	}

	out := exchangeResult{Results: results}
	final, err := x.model.Generate(ctx, follow)
	if err != nil {
		out.ModelErr = invokeErr(x.capability, err)
		return out, nil
	}
	// One round only. A second batch of calls is treated as malformed output.
	if final == nil || len(final.ToolCalls) > 0 {
		out.Malformed = true
		return out, nil
	}
	out.Content = strings.TrimSpace(final.Content)
	return out, nil
}

func toolContent(res contractx.ToolResult) string {
	var payload any = res.Result
	if res.Error != "" {
		payload = map[string]string{"error": res.Error}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}

func toToolRequests(calls []schema.ToolCall) ([]contractx.ToolRequest, error) {
	reqs := make([]contractx.ToolRequest, 0, len(calls))
	for i, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}

		id := call.ID
		if id == "" {
			id = fmt.Sprintf("%s_%d", tool, i)
		}
		reqs = append(reqs, contractx.ToolRequest{ID: id, Tool: tool, Args: args})
	}
	return reqs, nil
}
