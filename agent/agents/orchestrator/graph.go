package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	nodex "github.com/tanpawarit/Agent-Before-Ambulance/agent/nodes/orchestrator"
)

func (s *Supervisor) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, s.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_or_create_state",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadOrCreateState(ctx, in, s.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_or_create_state: %w", err)
	}

	if err := graph.AddLambdaNode("read_history",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ReadHistory(in, s.historyWindow)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node read_history: %w", err)
	}

	if err := graph.AddLambdaNode("derive_stage",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			out, err := nodex.DeriveStage(in)
			if err == nil {
				if t := traceFrom(ctx); t != nil {
					t.stage = out.Stage
					t.intent = out.Intent
				}
			}
			return out, err
		}),
	); err != nil {
		return nil, fmt.Errorf("add node derive_stage: %w", err)
	}

	stageNodes := map[string]func(context.Context, *nodex.GraphState) (*nodex.GraphState, error){
		nodex.NodeGreet: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Greet(in)
		},
		nodex.NodeTriage: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunTriage(ctx, in, s.models.Triage(), s.metrics)
		},
		nodex.NodeLocate: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunLocate(ctx, in, s.models.Locator(), s.models.Dispatcher(), s.metrics)
		},
		nodex.NodeDispatch: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunDispatch(ctx, in, s.models.Dispatcher(), s.metrics)
		},
		nodex.NodeFirstAid: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunFirstAid(ctx, in, s.models.FirstAid(), s.metrics)
		},
	}
	branchEnds := make(map[string]bool, len(stageNodes))
	for name, fn := range stageNodes {
		if err := graph.AddLambdaNode(name, compose.InvokableLambda(fn)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", name, err)
		}
		branchEnds[name] = true
	}

	if err := graph.AddLambdaNode("write_history",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.WriteHistory(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node write_history: %w", err)
	}

	if err := graph.AddLambdaNode("validate_and_save_state",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ValidateAndSaveState(ctx, in, s.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_and_save_state: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			return nodex.NodeFor(in.Stage)
		},
		branchEnds,
	)
	if err := graph.AddBranch("derive_stage", branch); err != nil {
		return nil, fmt.Errorf("add stage branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_or_create_state"},
		{"load_or_create_state", "read_history"},
		{"read_history", "derive_stage"},
		{nodex.NodeGreet, "write_history"},
		{nodex.NodeTriage, "write_history"},
		{nodex.NodeLocate, "write_history"},
		{nodex.NodeDispatch, "write_history"},
		{nodex.NodeFirstAid, "write_history"},
		{"write_history", "validate_and_save_state"},
		{"validate_and_save_state", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("supervisor.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile supervisor graph: %w", err)
	}
	return runner, nil
}
