package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
	qstashx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/qstash"
)

func TestMockDispatchServiceIssuesReceipt(t *testing.T) {
	t.Parallel()

	svc := NewMockDispatchService()
	seen := map[string]bool{}
	for i := 0; i < 25; i++ {
		r, err := svc.Dispatch(context.Background(), statex.Location{Address: "Main St"}, "burn")
		if err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
		if r.ETAMinutes < minETAMinutes || r.ETAMinutes > maxETAMinutes {
			t.Fatalf("ETA = %d outside %d..%d", r.ETAMinutes, minETAMinutes, maxETAMinutes)
		}
		if r.ID == "" || seen[r.ID] {
			t.Fatalf("dispatch id %q empty or reused", r.ID)
		}
		seen[r.ID] = true
		if r.Timestamp.IsZero() {
			t.Fatal("timestamp not set")
		}
	}
}

func TestMockDispatchServiceRequiresAddress(t *testing.T) {
	t.Parallel()

	if _, err := NewMockDispatchService().Dispatch(context.Background(), statex.Location{}, "burn"); err == nil {
		t.Fatal("expected error for empty address")
	}
}

type fakePublisher struct {
	payloads []any
	opts     []qstashx.PublishOptions
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, payload any, opts qstashx.PublishOptions) (string, error) {
	f.payloads = append(f.payloads, payload)
	f.opts = append(f.opts, opts)
	return "msg-1", f.err
}

type fixedDispatch struct{}

func (fixedDispatch) Dispatch(ctx context.Context, loc statex.Location, injury string) (statex.DispatchReceipt, error) {
	return statex.DispatchReceipt{ID: "amb-42", ETAMinutes: 6, Timestamp: time.Unix(0, 0)}, nil
}

func TestNotifyingDispatchServicePublishesReceipt(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	svc := NewNotifyingDispatchService(fixedDispatch{}, pub)

	r, err := svc.Dispatch(context.Background(), statex.Location{Address: "Main St"}, "burn")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if r.ID != "amb-42" {
		t.Fatalf("receipt = %#v", r)
	}
	if len(pub.payloads) != 1 {
		t.Fatalf("published %d payloads, want 1", len(pub.payloads))
	}
	n := pub.payloads[0].(DispatchNotification)
	if n.DispatchID != "amb-42" || n.Injury != "burn" || n.Location.Address != "Main St" {
		t.Fatalf("notification = %#v", n)
	}
	if pub.opts[0].DeduplicationID != "amb-42" {
		t.Fatalf("dedup id = %q", pub.opts[0].DeduplicationID)
	}
}

func TestNotifyingDispatchServiceIgnoresPublishFailure(t *testing.T) {
	t.Parallel()

	svc := NewNotifyingDispatchService(fixedDispatch{}, &fakePublisher{err: errors.New("qstash down")})
	if _, err := svc.Dispatch(context.Background(), statex.Location{Address: "Main St"}, "burn"); err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
}
