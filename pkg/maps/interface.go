package maps

import (
	"context"
	"fmt"
	"time"

	"guardian/internal/config"
)

// MapsProvider resolves place names to coordinates and back.
type MapsProvider interface {
	Geocode(ctx context.Context, address string) (*GeocodeResponse, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodeResponse, error)
}

type GeocodeResponse struct {
	Results []GeocodeResult `json:"results"`
}

// First returns the best match, or nil when there were no results.
func (r *GeocodeResponse) First() *GeocodeResult {
	if r == nil || len(r.Results) == 0 {
		return nil
	}
	return &r.Results[0]
}

type GeocodeResult struct {
	PlaceID     string   `json:"place_id"`
	Address     string   `json:"formatted_address"`
	Coordinates Location `json:"geometry"`
	Types       []string `json:"types"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// New builds the configured provider. It returns nil, nil when the selected
// provider has no credentials, which disables geocoding.
func New(cfg *config.MapsConfig) (MapsProvider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	switch cfg.Provider {
	case "mapbox":
		if cfg.Mapbox == nil || cfg.Mapbox.AccessToken == "" {
			return nil, nil
		}
		return NewMapboxProvider(cfg.Mapbox.AccessToken, cfg.Mapbox.BaseURL, timeout), nil
	case "google":
		if cfg.GoogleMaps == nil || cfg.GoogleMaps.APIKey == "" {
			return nil, nil
		}
		provider, err := NewGoogleMapsProvider(cfg.GoogleMaps.APIKey)
		if err != nil {
			return nil, err
		}
		return provider, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported maps provider: %s", cfg.Provider)
	}
}
