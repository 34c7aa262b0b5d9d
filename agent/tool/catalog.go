package tool

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
)

const (
	ToolGeocodeLocation   = "geocode_location"
	ToolDispatchAmbulance = "dispatch_ambulance"
	ToolCurrentTime       = "get_current_time"
)

type Executor func(ctx context.Context, tool string, args map[string]any) (contractx.ToolResult, error)

// InfosFor lists the tools a capability may request.
func InfosFor(capability contractx.Capability) []*schema.ToolInfo {
	switch capability {
	case contractx.CapabilityLocation:
		return []*schema.ToolInfo{geocodeInfo}
	case contractx.CapabilityDispatch:
		return []*schema.ToolInfo{dispatchInfo, currentTimeInfo}
	default:
		return nil
	}
}

func DefaultExecutor(capability contractx.Capability) Executor {
	return func(ctx context.Context, tool string, _ map[string]any) (contractx.ToolResult, error) {
		return contractx.ToolResult{
			Tool:  tool,
			Error: fmt.Sprintf("tool=%s is unavailable for capability=%s", tool, capability),
		}, nil
	}
}

var (
	geocodeInfo = &schema.ToolInfo{
		Name: ToolGeocodeLocation,
		Desc: "Resolve a place description, landmark or street address to a full address with coordinates.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "Place description exactly as the user gave it", Required: true},
		}),
	}

	dispatchInfo = &schema.ToolInfo{
		Name: ToolDispatchAmbulance,
		Desc: "Dispatch an ambulance to the location for the injury. Returns the dispatch id and ETA in minutes.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"location": {Type: schema.String, Desc: "Address to send the ambulance to", Required: true},
			"injury":   {Type: schema.String, Desc: "Short description of the injury", Required: true},
		}),
	}

	currentTimeInfo = &schema.ToolInfo{
		Name:        ToolCurrentTime,
		Desc:        "Return the current UTC time in RFC 3339 format.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
)
