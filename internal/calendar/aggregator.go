package calendar

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dashb/dashb/internal/dashb"
)

// Palette assigned round-robin to newly discovered calendars.
var Palette = []string{
	"#FF3B30", "#FF9500", "#FFCC00", "#34C759", "#007AFF", "#5856D6", "#AF52DE",
	"#FF2D55", "#A2845E", "#8E8E93",
}

// Events further out than this many days from the start of today are not
// shown on the dashboard.
const windowDays = 7

// SelectionStore persists which calendars, with which colors, a user has
// picked per provider.
type SelectionStore interface {
	SelectedCalendars(ctx context.Context, providerID string) ([]dashb.CalendarInfo, error)
	SetSelectedCalendars(ctx context.Context, providerID string, infos []dashb.CalendarInfo) error
}

// Aggregator composes the configured calendar services into one ranked
// event list. Refreshes are serialized so overlapping timers cannot race a
// partially built snapshot, and the published list is only ever replaced
// whole.
type Aggregator struct {
	services  []dashb.CalendarService
	selection SelectionStore

	// defaultColors maps a provider id to the color used when a selection
	// entry carries none.
	defaultColors map[string]string

	now func() time.Time

	fetchMu    sync.Mutex
	refreshing atomic.Bool

	pubMu  sync.RWMutex
	events []dashb.Event
}

// NewAggregator creates an aggregator over the given services.
func NewAggregator(selection SelectionStore, services ...dashb.CalendarService) *Aggregator {
	return &Aggregator{
		services:  services,
		selection: selection,
		defaultColors: map[string]string{
			"google":  "#FF3B30",
			"outlook": "#007AFF",
		},
		now: time.Now,
	}
}

// Services exposes the composed services, e.g. for login surfaces.
func (a *Aggregator) Services() []dashb.CalendarService {
	return a.services
}

// Refreshing reports whether a fetch cycle is currently in flight.
func (a *Aggregator) Refreshing() bool {
	return a.refreshing.Load()
}

// Events returns the last published list.
func (a *Aggregator) Events() []dashb.Event {
	a.pubMu.RLock()
	defer a.pubMu.RUnlock()

	out := make([]dashb.Event, len(a.events))
	copy(out, a.events)
	return out
}

// FetchEvents runs one full fetch cycle: parallel per-provider fetch,
// color tagging, window filtering, sorting, and an atomic publish. A
// provider failing only shrinks the result; it never fails the cycle.
func (a *Aggregator) FetchEvents(ctx context.Context) ([]dashb.Event, error) {
	a.fetchMu.Lock()
	defer a.fetchMu.Unlock()

	a.refreshing.Store(true)
	defer a.refreshing.Store(false)

	var (
		// One slot per service keeps provider order stable for the sort
		// tie-break below.
		results   = make([][]dashb.Event, len(a.services))
		connected = false
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range a.services {
		if !svc.Connected(ctx) {
			continue
		}
		connected = true

		i, svc := i, svc
		g.Go(func() error {
			events, err := a.fetchService(gctx, svc)
			if err != nil {
				slog.Warn("provider fetch degraded", "provider", svc.ID(), "error", err)
			}
			results[i] = events
			// Failures degrade this provider's contribution to empty
			// rather than canceling siblings.
			return nil
		})
	}
	_ = g.Wait()

	var all []dashb.Event
	for _, events := range results {
		all = append(all, events...)
	}

	if !connected || len(all) == 0 {
		all = placeholderEvents(a.now())
	}

	windowStart := startOfDay(a.now())
	windowEnd := windowStart.AddDate(0, 0, windowDays)
	filtered := all[:0]
	for _, ev := range all {
		if inWindow(ev, windowStart, windowEnd) {
			filtered = append(filtered, ev)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Start.Before(filtered[j].Start)
	})

	published := make([]dashb.Event, len(filtered))
	copy(published, filtered)

	a.pubMu.Lock()
	a.events = published
	a.pubMu.Unlock()

	return a.Events(), nil
}

// fetchService loads one provider's events with its configured selection,
// auto-selecting every discovered calendar the first time a provider shows
// up connected with nothing picked yet.
func (a *Aggregator) fetchService(ctx context.Context, svc dashb.CalendarService) ([]dashb.Event, error) {
	selection, err := a.selection.SelectedCalendars(ctx, svc.ID())
	if err != nil {
		return nil, err
	}

	if len(selection) == 0 {
		available, err := svc.FetchAvailableCalendars(ctx)
		if err != nil {
			return nil, err
		}
		for i, info := range available {
			info.ColorHex = Palette[i%len(Palette)]
			selection = append(selection, info)
		}
		if len(selection) == 0 {
			return nil, nil
		}
		if err := a.selection.SetSelectedCalendars(ctx, svc.ID(), selection); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(selection))
	colors := make(map[string]string, len(selection))
	for _, info := range selection {
		ids = append(ids, info.ID)
		colors[info.ID] = info.ColorHex
	}

	events, err := svc.FetchEvents(ctx, ids)
	for i := range events {
		color := colors[events[i].CalendarID]
		if color == "" {
			color = a.defaultColors[svc.ID()]
		}
		events[i].ColorHex = color
	}

	// Partial results still count; the error only explains the shrinkage.
	return events, err
}

// inWindow reports whether the event's [start,end) span intersects
// [windowStart, windowEnd). Zero-length events are treated as points.
func inWindow(ev dashb.Event, windowStart, windowEnd time.Time) bool {
	if ev.End.After(ev.Start) {
		return ev.Start.Before(windowEnd) && ev.End.After(windowStart)
	}

	return !ev.Start.Before(windowStart) && ev.Start.Before(windowEnd)
}

// placeholderEvents keeps the dashboard from rendering an empty board when
// nothing is connected or nothing came back: one all-day entry plus two
// timed ones for today.
func placeholderEvents(now time.Time) []dashb.Event {
	day := startOfDay(now)

	return []dashb.Event{
		{
			ID:         uuid.NewString(),
			Title:      "Connect a calendar to see your day",
			Start:      day,
			End:        day.AddDate(0, 0, 1),
			ColorHex:   Palette[4],
			CalendarID: "placeholder",
			AllDay:     true,
		},
		{
			ID:         uuid.NewString(),
			Title:      "Morning planning",
			Start:      day.Add(9 * time.Hour),
			End:        day.Add(9*time.Hour + 30*time.Minute),
			ColorHex:   Palette[3],
			CalendarID: "placeholder",
		},
		{
			ID:         uuid.NewString(),
			Title:      "Evening recap",
			Start:      day.Add(18 * time.Hour),
			End:        day.Add(18*time.Hour + 30*time.Minute),
			ColorHex:   Palette[1],
			CalendarID: "placeholder",
		},
	}
}
