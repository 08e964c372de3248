// Package location turns a location request, either a manual city name or
// "use the device", into coordinates plus a display name.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/dashb"
)

const defaultGeocodeURL = "https://geocoding-api.open-meteo.com/v1/search"

// ErrPermissionPending is returned when device resolution had to ask for
// permission first. Callers retry once the permission-changed signal fires.
var ErrPermissionPending = dasherr.E("location permission pending user decision", dasherr.KindAuthRequired)

// Resolver resolves manual and device location requests. Both the device
// geocoder and the device location provider are optional capabilities; the
// open geocoding API covers for a missing geocoder, and a missing location
// provider routes device requests to the configured default city.
type Resolver struct {
	geocoder    dashb.Geocoder
	device      dashb.LocationProvider
	http        *http.Client
	geocodeURL  string
	defaultCity string
	language    string

	// memo holds the last manual resolution keyed by the lowercased query,
	// so re-entering the same city does not re-hit the network.
	memo *lru.Cache[string, dashb.ResolvedLocation]

	// flight collapses concurrent device-location requests into one
	// platform call.
	flight singleflight.Group
}

type Options struct {
	Geocoder    dashb.Geocoder
	Device      dashb.LocationProvider
	HTTPClient  *http.Client
	GeocodeURL  string
	DefaultCity string
	Language    string
}

func NewResolver(opts Options) *Resolver {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.GeocodeURL == "" {
		opts.GeocodeURL = defaultGeocodeURL
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	memo, _ := lru.New[string, dashb.ResolvedLocation](1)

	return &Resolver{
		geocoder:    opts.Geocoder,
		device:      opts.Device,
		http:        opts.HTTPClient,
		geocodeURL:  opts.GeocodeURL,
		defaultCity: opts.DefaultCity,
		language:    opts.Language,
		memo:        memo,
	}
}

// HasDeviceLocation reports whether a device location provider is wired at
// all. Weather uses this to pick its source unconditionally.
func (r *Resolver) HasDeviceLocation() bool {
	return r.device != nil
}

// ResolveCity resolves a manual city query: memo, then the device
// geocoder, then the open geocoding API. When nothing matches, the
// returned location carries the capitalized query as its display name so
// callers can show an explicit not-found state.
func (r *Resolver) ResolveCity(ctx context.Context, query string) (dashb.ResolvedLocation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return dashb.ResolvedLocation{}, dasherr.E("empty city query", dasherr.KindValidation)
	}

	memoKey := strings.ToLower(query)
	if cached, ok := r.memo.Get(memoKey); ok {
		return cached, nil
	}

	if r.geocoder != nil {
		resolved, ok, err := r.geocoder.GeocodeCityName(ctx, query)
		if err == nil && ok {
			r.memo.Add(memoKey, resolved)
			return resolved, nil
		}
	}

	resolved, ok, err := r.geocodeOpenMeteo(ctx, query)
	if err == nil && ok {
		r.memo.Add(memoKey, resolved)
		return resolved, nil
	}

	return dashb.ResolvedLocation{Name: capitalize(query)},
		dasherr.E(fmt.Errorf("no match for city %q", query), dasherr.KindLocationNotFound)
}

// ResolveDevice resolves the device's current position, gated on the
// permission state machine. Denied or restricted permission falls back to
// the default city; an undetermined state asks and returns
// ErrPermissionPending for the caller to retry on the change signal.
func (r *Resolver) ResolveDevice(ctx context.Context) (dashb.ResolvedLocation, error) {
	if r.device == nil {
		return r.ResolveCity(ctx, r.defaultCity)
	}

	switch r.device.Permission() {
	case dashb.PermissionDenied, dashb.PermissionRestricted:
		return r.ResolveCity(ctx, r.defaultCity)
	case dashb.PermissionUndetermined:
		r.device.RequestPermission()
		return dashb.ResolvedLocation{}, ErrPermissionPending
	}

	v, err, _ := r.flight.Do("device", func() (any, error) {
		lat, lon, err := r.device.CurrentLocation(ctx)
		if err != nil {
			return dashb.ResolvedLocation{}, dasherr.E(fmt.Errorf("error reading device location: %w", err), dasherr.KindNetwork)
		}

		name := r.reverseName(ctx, lat, lon)

		return dashb.ResolvedLocation{Latitude: lat, Longitude: lon, Name: name}, nil
	})
	if err != nil {
		return dashb.ResolvedLocation{}, err
	}

	return v.(dashb.ResolvedLocation), nil
}

// reverseName resolves a display name for coordinates, best effort.
func (r *Resolver) reverseName(ctx context.Context, lat, lon float64) string {
	if r.geocoder != nil {
		if name, err := r.geocoder.ReverseGeocode(ctx, lat, lon); err == nil && name != "" {
			return name
		}
	}

	return "Current Location"
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

func (r *Resolver) geocodeOpenMeteo(ctx context.Context, query string) (dashb.ResolvedLocation, bool, error) {
	q := url.Values{
		"name":     {query},
		"count":    {"1"},
		"language": {r.language},
		"format":   {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.geocodeURL+"?"+q.Encode(), nil)
	if err != nil {
		return dashb.ResolvedLocation{}, false, fmt.Errorf("error building geocode request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return dashb.ResolvedLocation{}, false, dasherr.E(err, dasherr.KindNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dashb.ResolvedLocation{}, false,
			dasherr.E(fmt.Errorf("unexpected status code: %d", resp.StatusCode), dasherr.KindProtocol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return dashb.ResolvedLocation{}, false, dasherr.E(err, dasherr.KindNetwork)
	}

	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return dashb.ResolvedLocation{}, false,
			dasherr.E(fmt.Errorf("unparseable geocode response: %w", err), dasherr.KindProtocol)
	}
	if len(parsed.Results) == 0 {
		return dashb.ResolvedLocation{}, false, nil
	}

	first := parsed.Results[0]
	return dashb.ResolvedLocation{
		Latitude:  first.Latitude,
		Longitude: first.Longitude,
		Name:      first.Name,
	}, true, nil
}

// capitalize upper-cases the first letter of each word.
func capitalize(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}

	return strings.Join(words, " ")
}
