package capability

import (
	"context"
	"errors"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

type scriptedReply struct {
	msg *schema.Message
	err error
}

type fakeToolCallingModel struct {
	mu      sync.Mutex
	replies []scriptedReply
	inputs  [][]*schema.Message
	tools   []*schema.ToolInfo
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if len(f.replies) == 0 {
		return nil, errors.New("no fake response left")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.msg, r.err
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.tools = tools
	return f, nil
}

func (f *fakeToolCallingModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func reply(content string) scriptedReply {
	return scriptedReply{msg: schema.AssistantMessage(content, nil)}
}

func toolCallReply(id, name, args string) scriptedReply {
	return scriptedReply{msg: schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})}
}

func failure(err error) scriptedReply {
	return scriptedReply{err: err}
}

type fakeGeocoder struct {
	loc statex.Location
	err error
}

func (f fakeGeocoder) Geocode(ctx context.Context, query string) (statex.Location, error) {
	return f.loc, f.err
}

type recordingDispatch struct {
	mu     sync.Mutex
	calls  []statex.Location
	injury []string
	err    error
}

func (d *recordingDispatch) Dispatch(ctx context.Context, loc statex.Location, injury string) (statex.DispatchReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return statex.DispatchReceipt{}, d.err
	}
	d.calls = append(d.calls, loc)
	d.injury = append(d.injury, injury)
	return statex.DispatchReceipt{
		ID:         "amb-1",
		ETAMinutes: 8,
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

type fakeGateway struct {
	results []contractx.ToolResult
	err     error
	got     [][]contractx.ToolRequest
}

func (g *fakeGateway) Execute(ctx context.Context, capability contractx.Capability, reqs []contractx.ToolRequest) ([]contractx.ToolResult, error) {
	g.got = append(g.got, reqs)
	return g.results, g.err
}

func floatPtr(v float64) *float64 { return &v }
