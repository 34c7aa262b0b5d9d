package capability

import (
	"context"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	toolx "github.com/tanpawarit/Agent-Before-Ambulance/agent/tool"
)

var _ contractx.Locator = (*locatorImpl)(nil)

type locatorImpl struct {
	exchange *toolExchange
}

type locationLLMOutput struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

func newLocator(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	gateway contractx.ToolGateway,
	systemPrompt string,
) (*locatorImpl, error) {
	x, err := newToolExchange(ctx, contractx.CapabilityLocation, chatModel, gateway,
		toolx.InfosFor(contractx.CapabilityLocation), systemPrompt)
	if err != nil {
		return nil, err
	}
	return &locatorImpl{exchange: x}, nil
}

// Locate extracts the emergency location, optionally resolving it through
// the geocoder. A message without any place yields NotFound.
func (l *locatorImpl) Locate(ctx context.Context, req contractx.LocationRequest) (contractx.LocationResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return contractx.LocationResult{Outcome: contractx.OutcomeNotFound}, nil
	}
	vars, err := templateVars(req.History, map[string]any{"message": req.Message})
	if err != nil {
		return contractx.LocationResult{}, err
	}

	res, err := l.exchange.run(ctx, vars)
	if err != nil {
		return contractx.LocationResult{}, err
	}
	geocoded, found := geocodedLocation(res.Results)

	if res.ModelErr != nil {
		if found {
			log.Warn().Err(res.ModelErr).Msg("location model failed after geocoding, using geocoder result")
			return geocoded, nil
		}
		return contractx.LocationResult{}, res.ModelErr
	}
	if res.Malformed {
		if found {
			return geocoded, nil
		}
		return locationFallback(res.Content), nil
	}

	raw := res.Content
	if raw == "" || strings.EqualFold(stripCodeFence(raw), "null") {
		return contractx.LocationResult{Outcome: contractx.OutcomeNotFound, Raw: raw}, nil
	}

	out, err := parseJSON[locationLLMOutput](ctx, raw)
	if err != nil {
		log.Warn().Err(err).Msg("location output is not valid json")
		if found {
			return geocoded, nil
		}
		return locationFallback(raw), nil
	}
	address := strings.TrimSpace(out.Address)
	if address == "" {
		return contractx.LocationResult{Outcome: contractx.OutcomeNotFound, Raw: raw}, nil
	}
	return contractx.LocationResult{
		Outcome: contractx.OutcomeOK,
		Address: address,
		Lat:     out.Lat,
		Lon:     out.Lon,
		Raw:     raw,
	}, nil
}

func locationFallback(raw string) contractx.LocationResult {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return contractx.LocationResult{Outcome: contractx.OutcomeNotFound}
	}
	return contractx.LocationResult{Outcome: contractx.OutcomeFallback, Address: raw, Raw: raw}
}

// geocodedLocation picks the first successful geocoder match.
func geocodedLocation(results []contractx.ToolResult) (contractx.LocationResult, bool) {
	for _, r := range results {
		if r.Tool != toolx.ToolGeocodeLocation || r.Error != "" {
			continue
		}
		out, ok := r.Result.(toolx.GeocodeOutput)
		if !ok || !out.Found || strings.TrimSpace(out.Address) == "" {
			continue
		}
		return contractx.LocationResult{
			Outcome: contractx.OutcomeFallback,
			Address: out.Address,
			Lat:     out.Lat,
			Lon:     out.Lon,
		}, true
	}
	return contractx.LocationResult{}, false
}
