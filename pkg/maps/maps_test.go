package maps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"guardian/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

func TestMapboxReverseGeocode(t *testing.T) {
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("access_token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"features":[{"id":"address.1","place_name":"12 Main St, Springfield","place_type":["address"],"center":[-73.5,40.25]}]}`))
	}))
	defer srv.Close()

	provider := NewMapboxProvider("tok", srv.URL, time.Second)
	resp, err := provider.ReverseGeocode(context.Background(), 40.25, -73.5)
	require.NoError(t, err)

	assert.Equal(t, "/geocoding/v5/mapbox.places/-73.500000,40.250000.json", gotPath)
	assert.Equal(t, "tok", gotToken)

	first := resp.First()
	require.NotNil(t, first)
	assert.Equal(t, "12 Main St, Springfield", first.Address)
	assert.InDelta(t, 40.25, first.Coordinates.Latitude, 1e-9)
	assert.InDelta(t, -73.5, first.Coordinates.Longitude, 1e-9)
}

func TestMapboxGeocodeEscapesAddress(t *testing.T) {
	var gotRawPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRawPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()

	provider := NewMapboxProvider("tok", srv.URL, time.Second)
	resp, err := provider.Geocode(context.Background(), "Downtown Mall")
	require.NoError(t, err)

	assert.Equal(t, "/geocoding/v5/mapbox.places/Downtown%20Mall.json", gotRawPath)
	assert.Nil(t, resp.First())
}

func TestMapboxErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Authorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	provider := NewMapboxProvider("bad", srv.URL, time.Second)
	_, err := provider.ReverseGeocode(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestConvertGeocodingResults(t *testing.T) {
	in := []maps.GeocodingResult{{
		PlaceID:          "p1",
		FormattedAddress: "1 Infinite Loop",
		Geometry:         maps.AddressGeometry{Location: maps.LatLng{Lat: 37.33, Lng: -122.03}},
	}}

	out := convertGeocodingResults(in)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "1 Infinite Loop", out.First().Address)
	assert.InDelta(t, 37.33, out.First().Coordinates.Latitude, 1e-9)
}

func TestNewWithoutCredentialsDisablesGeocoding(t *testing.T) {
	cfg := &config.MapsConfig{
		Provider:   "mapbox",
		GoogleMaps: &config.GoogleMapsConfig{},
		Mapbox:     &config.MapboxConfig{},
	}
	provider, err := New(cfg)
	require.NoError(t, err)
	assert.Nil(t, provider)

	cfg.Mapbox.AccessToken = "tok"
	provider, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &MapboxProvider{}, provider)

	cfg.Provider = "bing"
	_, err = New(cfg)
	assert.Error(t, err)
}
