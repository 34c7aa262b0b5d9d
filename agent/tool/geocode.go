package tool

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
	nominatimx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/nominatim"
)

var ErrLocationNotFound = nominatimx.ErrLocationNotFound

type placeSearcher interface {
	Search(ctx context.Context, query string) (nominatimx.Place, error)
}

var _ contractx.Geocoder = (*NominatimGeocoder)(nil)

type NominatimGeocoder struct {
	client placeSearcher
}

func NewNominatimGeocoder(client *nominatimx.Client) *NominatimGeocoder {
	return &NominatimGeocoder{client: client}
}

func (g *NominatimGeocoder) Geocode(ctx context.Context, query string) (statex.Location, error) {
	place, err := g.client.Search(ctx, query)
	if err != nil {
		if errors.Is(err, nominatimx.ErrLocationNotFound) {
			return statex.Location{}, ErrLocationNotFound
		}
		return statex.Location{}, fmt.Errorf("geocode %q: %w", query, err)
	}
	lat, lon := place.Lat, place.Lon
	return statex.Location{
		Address: place.DisplayName,
		Lat:     &lat,
		Lon:     &lon,
	}, nil
}
