// Package dashboard owns the composed dashboard state: it triggers the
// calendar, weather, and news subsystems and publishes their combined
// snapshot atomically.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dashb/dashb/internal/dashb"
)

// Refresh cadences for the three independent triggers. They are
// uncoordinated and may overlap; each subsystem serializes its own
// refresh.
const (
	calendarCadence = "@every 5m"
	weatherCadence  = "@every 15m"
	newsCadence     = "@every 15m"
)

type (
	// Snapshot is the full dashboard state handed to consumers. It is
	// replaced whole, never patched.
	Snapshot struct {
		Greeting    string                `json:"greeting,omitempty"`
		Events      []dashb.Event         `json:"events"`
		Weather     dashb.WeatherSnapshot `json:"weather"`
		News        []dashb.NewsItem      `json:"news"`
		RefreshedAt time.Time             `json:"refreshed_at"`
	}

	// CalendarSource produces the merged event list.
	CalendarSource interface {
		FetchEvents(ctx context.Context) ([]dashb.Event, error)
	}

	// NewsSource produces the merged news list.
	NewsSource interface {
		FetchNews(ctx context.Context) ([]dashb.NewsItem, error)
	}

	// WeatherSource produces a snapshot for a resolved location. It
	// degrades internally and never errors.
	WeatherSource interface {
		Fetch(ctx context.Context, loc dashb.ResolvedLocation) dashb.WeatherSnapshot
	}

	// LocationSource resolves where the weather should be fetched for.
	LocationSource interface {
		ResolveCity(ctx context.Context, query string) (dashb.ResolvedLocation, error)
		ResolveDevice(ctx context.Context) (dashb.ResolvedLocation, error)
	}

	// SettingsSource is the user configuration the refresher reads.
	SettingsSource interface {
		SelectedCity(ctx context.Context) (string, error)
		UseManualLocation(ctx context.Context) (bool, error)
		DisplayName(ctx context.Context) (string, error)
		GreetingEnabled(ctx context.Context) (bool, error)
	}
)

// Refresher drives the three subsystems and owns the published snapshot.
type Refresher struct {
	calendar CalendarSource
	news     NewsSource
	weather  WeatherSource
	location LocationSource
	settings SettingsSource

	now func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot

	subMu sync.Mutex
	subs  []func(Snapshot)
}

func NewRefresher(calendar CalendarSource, news NewsSource, weather WeatherSource, location LocationSource, settings SettingsSource) *Refresher {
	return &Refresher{
		calendar: calendar,
		news:     news,
		weather:  weather,
		location: location,
		settings: settings,
		now:      time.Now,
	}
}

// Snapshot returns the last published state.
func (r *Refresher) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Subscribe registers a callback invoked after every publish.
func (r *Refresher) Subscribe(fn func(Snapshot)) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subs = append(r.subs, fn)
}

// RefreshAll runs all three subsystems concurrently. Each failure is
// isolated to its own section of the snapshot.
func (r *Refresher) RefreshAll(ctx context.Context) Snapshot {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { r.RefreshCalendar(gctx); return nil })
	g.Go(func() error { r.RefreshWeather(gctx); return nil })
	g.Go(func() error { r.RefreshNews(gctx); return nil })
	_ = g.Wait()

	return r.Snapshot()
}

// RefreshCalendar refetches events and publishes.
func (r *Refresher) RefreshCalendar(ctx context.Context) {
	events, err := r.calendar.FetchEvents(ctx)
	if err != nil {
		slog.Warn("calendar refresh degraded", "error", err)
	}

	r.publish(func(s *Snapshot) { s.Events = events })
}

// RefreshNews refetches the news list and publishes.
func (r *Refresher) RefreshNews(ctx context.Context) {
	items, err := r.news.FetchNews(ctx)
	if err != nil {
		slog.Warn("news refresh failed", "error", err)
		return
	}

	r.publish(func(s *Snapshot) { s.News = items })
}

// RefreshWeather resolves the configured location, fetches weather for
// it, and publishes. Resolution failures still publish, carrying the
// not-found display name through the weather sentinel path.
func (r *Refresher) RefreshWeather(ctx context.Context) {
	loc, err := r.resolveLocation(ctx)
	if err != nil {
		slog.Warn("location resolution degraded", "error", err)
	}

	snapshot := r.weather.Fetch(ctx, loc)
	r.publish(func(s *Snapshot) { s.Weather = snapshot })
}

func (r *Refresher) resolveLocation(ctx context.Context) (dashb.ResolvedLocation, error) {
	manual, err := r.settings.UseManualLocation(ctx)
	if err != nil {
		return dashb.ResolvedLocation{}, fmt.Errorf("error reading location mode: %w", err)
	}

	if manual {
		city, err := r.settings.SelectedCity(ctx)
		if err != nil {
			return dashb.ResolvedLocation{}, fmt.Errorf("error reading selected city: %w", err)
		}
		if city != "" {
			return r.location.ResolveCity(ctx, city)
		}
	}

	return r.location.ResolveDevice(ctx)
}

func (r *Refresher) publish(mutate func(*Snapshot)) {
	r.mu.Lock()
	mutate(&r.snapshot)
	r.snapshot.Greeting = r.greeting(context.Background())
	r.snapshot.RefreshedAt = r.now()
	published := r.snapshot
	r.mu.Unlock()

	r.subMu.Lock()
	subs := append([]func(Snapshot){}, r.subs...)
	r.subMu.Unlock()
	for _, fn := range subs {
		fn(published)
	}
}

// greeting builds the time-of-day salutation, empty when disabled.
func (r *Refresher) greeting(ctx context.Context) string {
	enabled, err := r.settings.GreetingEnabled(ctx)
	if err != nil || !enabled {
		return ""
	}

	var part string
	switch hour := r.now().Hour(); {
	case hour < 6:
		part = "Good night"
	case hour < 12:
		part = "Good morning"
	case hour < 18:
		part = "Good afternoon"
	default:
		part = "Good evening"
	}

	name, err := r.settings.DisplayName(ctx)
	if err != nil || name == "" {
		return part
	}

	return fmt.Sprintf("%s, %s", part, name)
}

// Schedule registers the periodic triggers on the given cron runner.
func (r *Refresher) Schedule(c *cron.Cron) error {
	if _, err := c.AddFunc(calendarCadence, func() { r.RefreshCalendar(context.Background()) }); err != nil {
		return fmt.Errorf("error scheduling calendar refresh: %w", err)
	}
	if _, err := c.AddFunc(weatherCadence, func() { r.RefreshWeather(context.Background()) }); err != nil {
		return fmt.Errorf("error scheduling weather refresh: %w", err)
	}
	if _, err := c.AddFunc(newsCadence, func() { r.RefreshNews(context.Background()) }); err != nil {
		return fmt.Errorf("error scheduling news refresh: %w", err)
	}

	return nil
}
