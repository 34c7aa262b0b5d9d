package contract

import (
	"context"

	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

type Triage interface {
	Classify(ctx context.Context, req TriageRequest) (TriageResult, error)
}

type Locator interface {
	Locate(ctx context.Context, req LocationRequest) (LocationResult, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

type FirstAid interface {
	Guide(ctx context.Context, req FirstAidRequest) (FirstAidResult, error)
}

type Registry interface {
	Triage() Triage
	Locator() Locator
	Dispatcher() Dispatcher
	FirstAid() FirstAid
}

type ToolGateway interface {
	Execute(ctx context.Context, capability Capability, reqs []ToolRequest) ([]ToolResult, error)
}

// Geocoder resolves a free-text place description to an address.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (statex.Location, error)
}

// DispatchService performs the real-world side effect. It must be called at
// most once per session; the supervisor guards that.
type DispatchService interface {
	Dispatch(ctx context.Context, loc statex.Location, injury string) (statex.DispatchReceipt, error)
}
