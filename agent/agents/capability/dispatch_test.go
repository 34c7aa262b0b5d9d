package capability

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
	toolx "github.com/tanpawarit/Agent-Before-Ambulance/agent/tool"
)

func newTestDispatcher(t *testing.T, fake *fakeToolCallingModel, gateway contractx.ToolGateway) *dispatcherImpl {
	t.Helper()
	d, err := newDispatcher(context.Background(), fake, gateway, "dispatch prompt")
	if err != nil {
		t.Fatalf("newDispatcher() error = %v", err)
	}
	return d
}

func dispatchRequest() contractx.DispatchRequest {
	return contractx.DispatchRequest{
		SessionID:  "s1",
		InjuryType: "fracture",
		Location:   statex.Location{Address: "123 Main St", Lat: floatPtr(1.5), Lon: floatPtr(2.5)},
	}
}

func TestDispatchPinsToolArgsToSessionState(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{replies: []scriptedReply{
		toolCallReply("call_1", toolx.ToolDispatchAmbulance, `{"location":"somewhere else","injury":"cut"}`),
		reply("An ambulance is on the way and should arrive in about 8 minutes."),
	}}
	service := &recordingDispatch{}
	d := newTestDispatcher(t, fake, toolx.NewGateway(nil, service))

	out, err := d.Dispatch(context.Background(), dispatchRequest())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if out.Outcome != contractx.OutcomeOK || out.Receipt.ID != "amb-1" || out.Receipt.ETAMinutes != 8 {
		t.Fatalf("got %+v", out)
	}
	if out.Narrative == "" {
		t.Fatal("narrative is empty")
	}
	if len(service.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(service.calls))
	}
	got := service.calls[0]
	if got.Address != "123 Main St" || got.Lat == nil || *got.Lat != 1.5 {
		t.Fatalf("dispatched to %+v", got)
	}
	if service.injury[0] != "fracture" {
		t.Fatalf("injury = %q", service.injury[0])
	}
}

func TestDispatchWithoutToolCallDispatchesDirectly(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{replies: []scriptedReply{
		reply("Help is coming, ETA 3 minutes."),
	}}
	service := &recordingDispatch{}
	d := newTestDispatcher(t, fake, toolx.NewGateway(nil, service))

	out, err := d.Dispatch(context.Background(), dispatchRequest())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if out.Outcome != contractx.OutcomeFallback {
		t.Fatalf("outcome = %s, want fallback", out.Outcome)
	}
	// The invented ETA in the model text is never used.
	if out.Receipt.ETAMinutes != 8 || out.Narrative != "" {
		t.Fatalf("got %+v", out)
	}
	if len(service.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(service.calls))
	}
}

func TestDispatchKeepsReceiptWhenNarrationFails(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{replies: []scriptedReply{
		toolCallReply("call_1", toolx.ToolDispatchAmbulance, `{}`),
		failure(errors.New("429 too many requests")),
	}}
	service := &recordingDispatch{}
	d := newTestDispatcher(t, fake, toolx.NewGateway(nil, service))

	out, err := d.Dispatch(context.Background(), dispatchRequest())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if out.Outcome != contractx.OutcomeFallback || out.Receipt.ID != "amb-1" {
		t.Fatalf("got %+v", out)
	}
	if len(service.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(service.calls))
	}
}

func TestDispatchModelDownStillDispatches(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{replies: []scriptedReply{failure(errors.New("provider down"))}}
	service := &recordingDispatch{}
	d := newTestDispatcher(t, fake, toolx.NewGateway(nil, service))

	out, err := d.Dispatch(context.Background(), dispatchRequest())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if out.Receipt.ID == "" || len(service.calls) != 1 {
		t.Fatalf("got %+v, calls=%d", out, len(service.calls))
	}
}

func TestDispatchPreconditions(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{}
	d := newTestDispatcher(t, fake, &fakeGateway{})

	req := dispatchRequest()
	req.InjuryType = ""
	if _, err := d.Dispatch(context.Background(), req); !errors.Is(err, contractx.ErrPrecondition) {
		t.Fatalf("missing injury: expected ErrPrecondition, got %v", err)
	}

	req = dispatchRequest()
	req.Location = statex.Location{}
	if _, err := d.Dispatch(context.Background(), req); !errors.Is(err, contractx.ErrPrecondition) {
		t.Fatalf("missing location: expected ErrPrecondition, got %v", err)
	}
	if fake.calls() != 0 {
		t.Fatal("model was called although preconditions failed")
	}
}

func TestDispatchServiceFailureIsReturned(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{replies: []scriptedReply{
		toolCallReply("call_1", toolx.ToolDispatchAmbulance, `{}`),
	}}
	service := &recordingDispatch{err: errors.New("no units available")}
	d := newTestDispatcher(t, fake, toolx.NewGateway(nil, service))

	_, err := d.Dispatch(context.Background(), dispatchRequest())
	if !errors.Is(err, contractx.ErrToolExecution) {
		t.Fatalf("expected ErrToolExecution, got %v", err)
	}
}

func TestDispatchDirectWithoutReceipt(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{replies: []scriptedReply{reply("ok")}}
	gateway := &fakeGateway{results: []contractx.ToolResult{{Tool: toolx.ToolDispatchAmbulance, Error: "location is empty"}}}
	d := newTestDispatcher(t, fake, gateway)

	_, err := d.Dispatch(context.Background(), dispatchRequest())
	if !errors.Is(err, contractx.ErrToolExecution) {
		t.Fatalf("expected ErrToolExecution, got %v", err)
	}
	if len(gateway.got) != 1 || gateway.got[0][0].Args["location"] != "123 Main St" {
		t.Fatalf("direct dispatch args = %+v", gateway.got)
	}
}
