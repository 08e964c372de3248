package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/dashb"
)

func TestClassify_RainFamily(t *testing.T) {
	for _, code := range []int{61, 63, 65} {
		cond := Classify(code, true)
		assert.Equal(t, "cloud.rain.fill", cond.Icon, "code %d", code)
		assert.Equal(t, "Rain", cond.Description, "code %d", code)
		assert.Equal(t, "Rainy day, remember your umbrella!", cond.Advice, "code %d", code)
	}
}

func TestClassify_Groupings(t *testing.T) {
	tests := []struct {
		code int
		day  bool
		icon string
		desc string
	}{
		{0, true, "sun.max.fill", "Clear Sky"},
		{0, false, "moon.stars.fill", "Clear Sky"},
		{2, true, "cloud.sun.fill", "Partly Cloudy"},
		{2, false, "cloud.moon.fill", "Partly Cloudy"},
		{3, true, "cloud.fill", "Overcast"},
		{45, true, "cloud.fog.fill", "Fog"},
		{48, true, "cloud.fog.fill", "Fog"},
		{55, true, "cloud.drizzle.fill", "Drizzle"},
		{57, true, "cloud.drizzle.fill", "Freezing Drizzle"},
		{67, true, "cloud.rain.fill", "Freezing Rain"},
		{75, true, "cloud.snow.fill", "Snow"},
		{77, true, "cloud.snow.fill", "Snow Grains"},
		{81, true, "cloud.heavyrain.fill", "Rain Showers"},
		{86, true, "cloud.snow.fill", "Snow Showers"},
		{95, true, "cloud.bolt.rain.fill", "Thunderstorm"},
		{99, true, "cloud.bolt.rain.fill", "Thunderstorm"},
		{42, true, "cloud.fill", "Unknown"},
	}
	for _, tc := range tests {
		cond := Classify(tc.code, tc.day)
		assert.Equal(t, tc.icon, cond.Icon, "code %d day %v", tc.code, tc.day)
		assert.Equal(t, tc.desc, cond.Description, "code %d", tc.code)
	}
}

func TestFormatTemp_RoundsForDisplay(t *testing.T) {
	assert.Equal(t, "21°", formatTemp(20.6))
	assert.Equal(t, "-3°", formatTemp(-3.4))
	assert.Equal(t, "0°", formatTemp(0.2))
}

func openMeteoBody(now time.Time) string {
	hourLayout := "2006-01-02T15:04"
	hours := make([]string, 6)
	for i := range hours {
		hours[i] = fmt.Sprintf("%q", now.Truncate(time.Hour).Add(time.Duration(i)*time.Hour).Format(hourLayout))
	}
	days := make([]string, 7)
	for i := range days {
		days[i] = fmt.Sprintf("%q", now.AddDate(0, 0, i).Format("2006-01-02"))
	}

	return fmt.Sprintf(`{
		"current_weather": {"temperature": 20.6, "weathercode": 61, "is_day": 1},
		"hourly": {
			"time": [%s,%s,%s,%s,%s,%s],
			"temperature_2m": [20.6, 21.4, 22.0, 21.1, 19.0, 18.0],
			"weathercode": [61, 61, 3, 0, 0, 0],
			"is_day": [1, 1, 1, 1, 0, 0]
		},
		"daily": {
			"time": [%s,%s,%s,%s,%s,%s,%s],
			"temperature_2m_max": [25.0, 24.4, 23.0, 22.0, 21.0, 20.0, 19.0],
			"temperature_2m_min": [15.0, 14.6, 13.0, 12.0, 11.0, 10.0, 9.0],
			"weathercode": [0, 61, 3, 0, 71, 95, 0]
		}
	}`, hours[0], hours[1], hours[2], hours[3], hours[4], hours[5],
		days[0], days[1], days[2], days[3], days[4], days[5], days[6])
}

func TestOpenMeteo_Fetch(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 12, 0, 0, time.Local)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("current_weather"))
		assert.Equal(t, "temperature_2m,weathercode,is_day", q.Get("hourly"))
		assert.Equal(t, "weathercode,temperature_2m_max,temperature_2m_min", q.Get("daily"))
		assert.Equal(t, "auto", q.Get("timezone"))
		assert.Equal(t, "44.22", q.Get("latitude"))
		w.Write([]byte(openMeteoBody(now)))
	}))
	defer srv.Close()

	om := NewOpenMeteo(http.DefaultClient, srv.URL)
	om.now = func() time.Time { return now }

	snapshot, err := om.Fetch(context.Background(), dashb.ResolvedLocation{
		Latitude: 44.22, Longitude: 12.04, Name: "Forlì",
	})
	require.NoError(t, err)

	assert.Equal(t, "Forlì", snapshot.City)
	assert.Equal(t, "21°", snapshot.CurrentTemp)
	assert.Equal(t, "cloud.rain.fill", snapshot.Icon)
	assert.Equal(t, "Rain", snapshot.Description)
	assert.Equal(t, "Rainy day, remember your umbrella!", snapshot.Advice)

	// The 10:00 slot is within the 30 minute grace of 10:12, so it leads
	// with the fixed "now" label and the next three follow.
	require.Len(t, snapshot.Hourly, 4)
	assert.Equal(t, "Now", snapshot.Hourly[0].Label)
	assert.Equal(t, "21°", snapshot.Hourly[0].Temp)
	assert.Equal(t, "11:00", snapshot.Hourly[1].Label)
	assert.Equal(t, "cloud.fill", snapshot.Hourly[2].Icon)
	assert.Equal(t, "sun.max.fill", snapshot.Hourly[3].Icon)

	// Today is skipped; the next five days follow.
	require.Len(t, snapshot.Daily, 5)
	assert.Equal(t, "24°", snapshot.Daily[0].High)
	assert.Equal(t, "15°", snapshot.Daily[0].Low)
	assert.Equal(t, "cloud.rain.fill", snapshot.Daily[0].Icon)
	assert.Equal(t, "cloud.bolt.rain.fill", snapshot.Daily[4].Icon)
}

func TestOpenMeteo_ServerErrorIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	om := NewOpenMeteo(http.DefaultClient, srv.URL)

	_, err := om.Fetch(context.Background(), dashb.ResolvedLocation{})
	require.Error(t, err)
	assert.Equal(t, dasherr.KindServiceUnavailable, dasherr.KindOf(err))
}

// fixedProvider is a scriptable weather provider.
type fixedProvider struct {
	snapshot dashb.WeatherSnapshot
	err      error
	calls    int
}

func (f *fixedProvider) Fetch(context.Context, dashb.ResolvedLocation) (dashb.WeatherSnapshot, error) {
	f.calls++
	return f.snapshot, f.err
}

func TestResolver_PrimaryFailureFallsBack(t *testing.T) {
	primary := &fixedProvider{err: errors.New("no capability")}
	fallback := &fixedProvider{snapshot: dashb.WeatherSnapshot{CurrentTemp: "18°"}}
	r := NewResolver(primary, fallback)

	snapshot := r.Fetch(context.Background(), dashb.ResolvedLocation{Name: "Forlì"})
	assert.Equal(t, "18°", snapshot.CurrentTemp)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestResolver_NoPrimaryGoesStraightToFallback(t *testing.T) {
	fallback := &fixedProvider{snapshot: dashb.WeatherSnapshot{CurrentTemp: "18°"}}
	r := NewResolver(nil, fallback)

	snapshot := r.Fetch(context.Background(), dashb.ResolvedLocation{})
	assert.Equal(t, "18°", snapshot.CurrentTemp)
}

func TestResolver_TotalFailureYieldsSentinels(t *testing.T) {
	fallback := &fixedProvider{err: dasherr.E("down", dasherr.KindServiceUnavailable)}
	r := NewResolver(nil, fallback)

	snapshot := r.Fetch(context.Background(), dashb.ResolvedLocation{Name: "Forlì"})
	assert.Equal(t, "Forlì", snapshot.City)
	assert.Equal(t, "--°", snapshot.CurrentTemp)
	assert.Equal(t, "--", snapshot.Description)
	assert.Equal(t, "cloud.fill", snapshot.Icon)
	assert.Equal(t, "service unavailable", snapshot.Reason)
	assert.Empty(t, snapshot.Hourly)
}

func TestResolver_NetworkFailureReason(t *testing.T) {
	fallback := &fixedProvider{err: dasherr.E("timeout", dasherr.KindNetwork)}
	r := NewResolver(nil, fallback)

	snapshot := r.Fetch(context.Background(), dashb.ResolvedLocation{})
	assert.Equal(t, "no network", snapshot.Reason)
}

func TestResolver_MockSubstitutionBehindFlag(t *testing.T) {
	fallback := &fixedProvider{err: errors.New("down")}
	r := NewResolver(nil, fallback)
	r.UseMockOnFailure = true

	snapshot := r.Fetch(context.Background(), dashb.ResolvedLocation{Name: "Forlì"})
	assert.Equal(t, "21°", snapshot.CurrentTemp)
	assert.Equal(t, "Sunny", snapshot.Description)
	assert.Equal(t, "Forlì", snapshot.City)
	require.Len(t, snapshot.Hourly, 4)
	assert.Equal(t, "Now", snapshot.Hourly[0].Label)
	assert.Len(t, snapshot.Daily, 5)
	assert.Empty(t, snapshot.Reason)
}
