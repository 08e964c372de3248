// Package dashb holds the domain model shared by the dashboard subsystems.
package dashb

import (
	"context"
	"time"
)

type (
	// CalendarInfo represents a remote calendar a user can subscribe to.
	// The selection of active calendars, with colors, is user configuration.
	CalendarInfo struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		ColorHex string `json:"color_hex,omitempty"`
	}

	// Event is a single dashboard calendar entry, re-created fresh on every
	// fetch cycle. End is never before Start after normalization.
	Event struct {
		ID         string    `json:"id"`
		Title      string    `json:"title"`
		Start      time.Time `json:"start"`
		End        time.Time `json:"end"`
		Location   string    `json:"location,omitempty"`
		ColorHex   string    `json:"color_hex"`
		CalendarID string    `json:"calendar_id"`
		AllDay     bool      `json:"all_day"`
	}

	// DeviceAuthChallenge is the transient state of a started device flow.
	// It is invalid once ExpiresIn elapses or after the first successful poll.
	DeviceAuthChallenge struct {
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		DeviceCode      string `json:"device_code"`
		ExpiresIn       int    `json:"expires_in"`
		// Interval is the provider-suggested polling interval in seconds.
		// Clients apply their own 5s floor regardless; see deviceflow.
		Interval int `json:"interval"`
	}

	// NewsItem is one merged feed entry. ImageURL is patched in place by the
	// enrichment pass after the item is already published.
	NewsItem struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		// PubDate is the display string; RawDate drives sorting and is nil
		// when the feed's date could not be parsed.
		PubDate  string     `json:"pub_date"`
		RawDate  *time.Time `json:"raw_date,omitempty"`
		Link     string     `json:"link"`
		Source   string     `json:"source"`
		ImageURL string     `json:"image_url,omitempty"`
	}

	// FeedConfig is one user-configured RSS source.
	FeedConfig struct {
		URL    string `json:"url"`
		Source string `json:"source"`
	}

	// ResolvedLocation is the transient result of geocoding a request.
	ResolvedLocation struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
	}

	// ForecastPoint is an hourly weather entry.
	ForecastPoint struct {
		Label string `json:"label"`
		Icon  string `json:"icon"`
		Temp  string `json:"temp"`
	}

	// DailyPoint is a per-day weather entry.
	DailyPoint struct {
		Day  string `json:"day"`
		Icon string `json:"icon"`
		High string `json:"high"`
		Low  string `json:"low"`
	}

	// WeatherSnapshot is fully replaced on every successful fetch. On
	// failure the display fields carry explicit sentinels and Reason holds
	// a short human-readable cause.
	WeatherSnapshot struct {
		City        string          `json:"city"`
		CurrentTemp string          `json:"current_temp"`
		Icon        string          `json:"icon"`
		Description string          `json:"description"`
		Advice      string          `json:"advice"`
		Hourly      []ForecastPoint `json:"hourly"`
		Daily       []DailyPoint    `json:"daily"`
		Reason      string          `json:"reason,omitempty"`
	}
)

// SecretStore persists string secrets keyed by (namespace, key). Reads and
// writes are atomic per key and survive process restart.
type SecretStore interface {
	Save(ctx context.Context, namespace, key, value string) error
	// Read returns ok=false when the secret does not exist.
	Read(ctx context.Context, namespace, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, namespace, key string) error
}

// Geocoder is the device geocoding capability, best effort and possibly
// unavailable on some platforms.
type Geocoder interface {
	// GeocodeCityName returns ok=false when the name cannot be resolved.
	GeocodeCityName(ctx context.Context, name string) (ResolvedLocation, bool, error)
	// ReverseGeocode returns an empty string when no name is known.
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

// PermissionState is the device location permission.
type PermissionState int

const (
	PermissionUndetermined PermissionState = iota
	PermissionGranted
	PermissionDenied
	PermissionRestricted
)

// LocationProvider is the one-shot device location capability.
type LocationProvider interface {
	Permission() PermissionState
	RequestPermission()
	// CurrentLocation blocks until the device yields coordinates or errors.
	CurrentLocation(ctx context.Context) (lat, lon float64, err error)
}

// CalendarService is one connected calendar backend. The aggregator is
// written against this interface only.
type CalendarService interface {
	ID() string
	Name() string
	Connected(ctx context.Context) bool
	StartDeviceAuth(ctx context.Context) (DeviceAuthChallenge, error)
	PollForToken(ctx context.Context, deviceCode string) (bool, error)
	Logout(ctx context.Context) error
	FetchAvailableCalendars(ctx context.Context) ([]CalendarInfo, error)
	FetchEvents(ctx context.Context, calendarIDs []string) ([]Event, error)
}
