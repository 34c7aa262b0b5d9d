package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

type GeocodeOutput struct {
	Found   bool     `json:"found"`
	Address string   `json:"address,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
	Message string   `json:"message,omitempty"`
}

type CurrentTimeOutput struct {
	Now string `json:"now"`
}

var _ contractx.ToolGateway = (*Gateway)(nil)

// Gateway executes tool requests locally. Requests for tools that are not in
// the capability's catalog come back as tool errors, not Go errors.
type Gateway struct {
	geocoder contractx.Geocoder
	dispatch contractx.DispatchService
	now      func() time.Time
}

func NewGateway(geocoder contractx.Geocoder, dispatch contractx.DispatchService) *Gateway {
	return &Gateway{
		geocoder: geocoder,
		dispatch: dispatch,
		now:      time.Now,
	}
}

func (g *Gateway) Execute(ctx context.Context, capability contractx.Capability, reqs []contractx.ToolRequest) ([]contractx.ToolResult, error) {
	allowed := make(map[string]struct{})
	for _, info := range InfosFor(capability) {
		allowed[info.Name] = struct{}{}
	}
	exec := g.executor(capability)

	dispatched := false
	results := make([]contractx.ToolResult, 0, len(reqs))
	for _, req := range reqs {
		var (
			res contractx.ToolResult
			err error
		)
		switch _, ok := allowed[req.Tool]; {
		case !ok:
			res, err = DefaultExecutor(capability)(ctx, req.Tool, req.Args)
		case req.Tool == ToolDispatchAmbulance && dispatched:
			res = contractx.ToolResult{Tool: req.Tool, Error: "ambulance already dispatched in this request"}
		default:
			res, err = exec(ctx, req.Tool, req.Args)
			if err == nil && req.Tool == ToolDispatchAmbulance && res.Error == "" {
				dispatched = true
			}
		}
		if err != nil {
			return nil, err
		}
		res.ID = req.ID
		results = append(results, res)
	}
	return results, nil
}

func (g *Gateway) executor(capability contractx.Capability) Executor {
	fallback := DefaultExecutor(capability)
	return func(ctx context.Context, tool string, args map[string]any) (contractx.ToolResult, error) {
		switch tool {
		case ToolGeocodeLocation:
			return g.geocode(ctx, tool, args)
		case ToolDispatchAmbulance:
			return g.dispatchAmbulance(ctx, tool, args)
		case ToolCurrentTime:
			return contractx.ToolResult{
				Tool:   tool,
				Result: CurrentTimeOutput{Now: g.now().UTC().Format(time.RFC3339)},
			}, nil
		default:
			return fallback(ctx, tool, args)
		}
	}
}

func (g *Gateway) geocode(ctx context.Context, tool string, args map[string]any) (contractx.ToolResult, error) {
	query, msg := stringArg(args, "query")
	if msg != "" {
		return contractx.ToolResult{Tool: tool, Error: msg}, nil
	}
	if g.geocoder == nil {
		return contractx.ToolResult{Tool: tool, Error: "geocoding is not configured"}, nil
	}

	loc, err := g.geocoder.Geocode(ctx, query)
	if errors.Is(err, ErrLocationNotFound) {
		return contractx.ToolResult{
			Tool:   tool,
			Result: GeocodeOutput{Found: false, Message: "Location not found"},
		}, nil
	}
	if err != nil {
		// Lookup failures are reported to the model; it can still use the raw text.
		return contractx.ToolResult{Tool: tool, Error: fmt.Sprintf("geocoding failed: %v", err)}, nil
	}
	return contractx.ToolResult{
		Tool:   tool,
		Result: GeocodeOutput{Found: true, Address: loc.Address, Lat: loc.Lat, Lon: loc.Lon},
	}, nil
}

// dispatchAmbulance returns the receipt itself as the result, so callers can
// recover it without parsing model text. Service errors are Go errors: the
// side effect may or may not have happened and the turn must fail.
func (g *Gateway) dispatchAmbulance(ctx context.Context, tool string, args map[string]any) (contractx.ToolResult, error) {
	address, msg := stringArg(args, "location")
	if msg != "" {
		return contractx.ToolResult{Tool: tool, Error: msg}, nil
	}
	injury, _ := stringArg(args, "injury")
	if g.dispatch == nil {
		return contractx.ToolResult{}, fmt.Errorf("%w: dispatch service is not configured", contractx.ErrToolExecution)
	}

	loc := statex.Location{Address: address, Lat: floatArg(args, "lat"), Lon: floatArg(args, "lon")}
	receipt, err := g.dispatch.Dispatch(ctx, loc, injury)
	if err != nil {
		return contractx.ToolResult{}, fmt.Errorf("%w: dispatch ambulance: %v", contractx.ErrToolExecution, err)
	}
	return contractx.ToolResult{Tool: tool, Result: receipt}, nil
}

func stringArg(args map[string]any, key string) (string, string) {
	raw, ok := args[key]
	if !ok {
		return "", key + " is required"
	}
	s, ok := raw.(string)
	if !ok {
		return "", key + " must be a string"
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", key + " is empty"
	}
	return s, ""
}

func floatArg(args map[string]any, key string) *float64 {
	switch v := args[key].(type) {
	case float64:
		return &v
	case *float64:
		return v
	default:
		return nil
	}
}
