// Package weather produces display-ready weather snapshots for a resolved
// location, preferring a primary provider and degrading gracefully.
package weather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/dashb"
)

// Provider fetches current, hourly, and daily conditions in one call.
type Provider interface {
	Fetch(ctx context.Context, loc dashb.ResolvedLocation) (dashb.WeatherSnapshot, error)
}

// Failure sentinels shown when no snapshot could be produced.
const (
	unknownTemp = "--°"
	unknownText = "--"
	unknownIcon = "cloud.fill"
)

// Resolver wraps a primary provider with an open-data fallback. A nil
// primary, the case on platforms without a location-services weather
// source, routes every request to the fallback unconditionally. Failures
// produce a sentinel snapshot with a classified reason, or deterministic
// sample data when UseMockOnFailure is set.
type Resolver struct {
	primary  Provider
	fallback Provider

	// UseMockOnFailure substitutes sample data for the failure sentinels.
	// Off by default; it is a development aid, never inferred from the
	// environment.
	UseMockOnFailure bool

	now func() time.Time
}

func NewResolver(primary, fallback Provider) *Resolver {
	return &Resolver{primary: primary, fallback: fallback, now: time.Now}
}

// Fetch produces a snapshot for the location. It never returns an error;
// a failed fetch is rendered as a snapshot with sentinel fields and a
// reason, or as mock data when configured.
func (r *Resolver) Fetch(ctx context.Context, loc dashb.ResolvedLocation) dashb.WeatherSnapshot {
	snapshot, err := r.fetch(ctx, loc)
	if err == nil {
		return snapshot
	}

	slog.Warn("weather fetch failed", "city", loc.Name, "error", err)

	if r.UseMockOnFailure {
		return mockSnapshot(loc.Name, r.now())
	}

	return dashb.WeatherSnapshot{
		City:        loc.Name,
		CurrentTemp: unknownTemp,
		Icon:        unknownIcon,
		Description: unknownText,
		Reason:      reasonFor(err),
	}
}

func (r *Resolver) fetch(ctx context.Context, loc dashb.ResolvedLocation) (dashb.WeatherSnapshot, error) {
	if r.primary == nil {
		return r.fallback.Fetch(ctx, loc)
	}

	snapshot, err := r.primary.Fetch(ctx, loc)
	if err == nil {
		return snapshot, nil
	}

	snapshot, ferr := r.fallback.Fetch(ctx, loc)
	if ferr != nil {
		return dashb.WeatherSnapshot{}, fmt.Errorf("primary failed (%v), fallback failed: %w", err, ferr)
	}

	return snapshot, nil
}

// reasonFor classifies a fetch error into a small user-facing vocabulary.
func reasonFor(err error) string {
	switch dasherr.KindOf(err) {
	case dasherr.KindServiceUnavailable:
		return "service unavailable"
	case dasherr.KindNetwork:
		return "no network"
	default:
		return "weather unavailable"
	}
}

// mockSnapshot is the deterministic development stand-in: a mild sunny
// day with four hourly and five daily points.
func mockSnapshot(city string, now time.Time) dashb.WeatherSnapshot {
	if city == "" {
		city = "Sample Data"
	}

	hourly := make([]dashb.ForecastPoint, 0, hourlyPoints)
	for i := 0; i < hourlyPoints; i++ {
		label := nowLabel
		if i != 0 {
			label = now.Add(time.Duration(i) * time.Hour).Format("15:04")
		}
		icon := "cloud.sun.fill"
		if i%2 != 0 {
			icon = "cloud.fill"
		}
		hourly = append(hourly, dashb.ForecastPoint{
			Label: label,
			Icon:  icon,
			Temp:  fmt.Sprintf("%d°", 20+i),
		})
	}

	daily := make([]dashb.DailyPoint, 0, dailyPoints)
	for i := 1; i <= dailyPoints; i++ {
		icon := "sun.max.fill"
		if i%2 == 0 {
			icon = "cloud.sun.fill"
		}
		daily = append(daily, dashb.DailyPoint{
			Day:  now.AddDate(0, 0, i).Format("Mon"),
			Icon: icon,
			High: fmt.Sprintf("%d°", 22+i),
			Low:  fmt.Sprintf("%d°", 15+i),
		})
	}

	return dashb.WeatherSnapshot{
		City:        city,
		CurrentTemp: "21°",
		Icon:        "cloud.sun.fill",
		Description: "Sunny",
		Advice:      "Enjoy this beautiful sunny day!",
		Hourly:      hourly,
		Daily:       daily,
	}
}
