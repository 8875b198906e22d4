package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type MapboxProvider struct {
	accessToken string
	httpClient  *http.Client
	baseURL     string
}

func NewMapboxProvider(accessToken, baseURL string, timeout time.Duration) *MapboxProvider {
	if baseURL == "" {
		baseURL = "https://api.mapbox.com"
	}
	return &MapboxProvider{
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

type mapboxResponse struct {
	Features []struct {
		ID        string    `json:"id"`
		PlaceName string    `json:"place_name"`
		PlaceType []string  `json:"place_type"`
		Center    []float64 `json:"center"`
	} `json:"features"`
}

func (m *MapboxProvider) Geocode(ctx context.Context, address string) (*GeocodeResponse, error) {
	return m.query(ctx, url.PathEscape(address), nil)
}

func (m *MapboxProvider) ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodeResponse, error) {
	search := strconv.FormatFloat(lng, 'f', 6, 64) + "," + strconv.FormatFloat(lat, 'f', 6, 64)
	return m.query(ctx, search, url.Values{"limit": {"1"}})
}

func (m *MapboxProvider) query(ctx context.Context, search string, extra url.Values) (*GeocodeResponse, error) {
	params := url.Values{"access_token": {m.accessToken}}
	for k, v := range extra {
		params[k] = v
	}
	apiURL := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%s.json?%s", m.baseURL, search, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mapbox API error (status %d): %s", resp.StatusCode, string(body))
	}

	var mapboxResp mapboxResponse
	if err := json.Unmarshal(body, &mapboxResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	results := make([]GeocodeResult, 0, len(mapboxResp.Features))
	for _, feature := range mapboxResp.Features {
		result := GeocodeResult{
			PlaceID: feature.ID,
			Address: feature.PlaceName,
			Types:   feature.PlaceType,
		}
		if len(feature.Center) == 2 {
			result.Coordinates = Location{
				Latitude:  feature.Center[1],
				Longitude: feature.Center[0],
			}
		}
		results = append(results, result)
	}

	return &GeocodeResponse{Results: results}, nil
}
