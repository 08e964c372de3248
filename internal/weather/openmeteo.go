package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/dashb"
)

const (
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"

	// Open-Meteo timestamps come without a zone, in the location's own
	// timezone when timezone=auto is requested.
	openMeteoHourLayout = "2006-01-02T15:04"
	openMeteoDayLayout  = "2006-01-02"

	hourlyPoints = 4
	dailyPoints  = 5
	nowLabel     = "Now"
)

// OpenMeteo fetches current, hourly, and daily conditions in one batched
// request against the open-data forecast API.
type OpenMeteo struct {
	http    *http.Client
	baseURL string
	now     func() time.Time
}

func NewOpenMeteo(httpClient *http.Client, baseURL string) *OpenMeteo {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultForecastURL
	}

	return &OpenMeteo{http: httpClient, baseURL: baseURL, now: time.Now}
}

type openMeteoResponse struct {
	CurrentWeather *struct {
		Temperature float64 `json:"temperature"`
		WeatherCode int     `json:"weathercode"`
		IsDay       int     `json:"is_day"`
	} `json:"current_weather"`
	Hourly *struct {
		Time        []string  `json:"time"`
		Temperature []float64 `json:"temperature_2m"`
		WeatherCode []int     `json:"weathercode"`
		IsDay       []int     `json:"is_day"`
	} `json:"hourly"`
	Daily *struct {
		Time    []string  `json:"time"`
		TempMax []float64 `json:"temperature_2m_max"`
		TempMin []float64 `json:"temperature_2m_min"`
		Code    []int     `json:"weathercode"`
	} `json:"daily"`
}

// Fetch loads a full snapshot for the resolved location.
func (o *OpenMeteo) Fetch(ctx context.Context, loc dashb.ResolvedLocation) (dashb.WeatherSnapshot, error) {
	q := url.Values{
		"latitude":        {strconv.FormatFloat(loc.Latitude, 'f', -1, 64)},
		"longitude":       {strconv.FormatFloat(loc.Longitude, 'f', -1, 64)},
		"current_weather": {"true"},
		"hourly":          {"temperature_2m,weathercode,is_day"},
		"daily":           {"weathercode,temperature_2m_max,temperature_2m_min"},
		"timezone":        {"auto"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return dashb.WeatherSnapshot{}, fmt.Errorf("error building forecast request: %w", err)
	}

	resp, err := o.http.Do(req)
	if err != nil {
		return dashb.WeatherSnapshot{}, dasherr.E(err, dasherr.KindNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return dashb.WeatherSnapshot{},
			dasherr.E(fmt.Errorf("unexpected status code: %d", resp.StatusCode), dasherr.KindServiceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return dashb.WeatherSnapshot{},
			dasherr.E(fmt.Errorf("unexpected status code: %d", resp.StatusCode), dasherr.KindProtocol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return dashb.WeatherSnapshot{}, dasherr.E(err, dasherr.KindNetwork)
	}

	var parsed openMeteoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return dashb.WeatherSnapshot{},
			dasherr.E(fmt.Errorf("unparseable forecast response: %w", err), dasherr.KindProtocol)
	}

	snapshot := dashb.WeatherSnapshot{City: loc.Name}

	if cw := parsed.CurrentWeather; cw != nil {
		cond := Classify(cw.WeatherCode, cw.IsDay == 1)
		snapshot.CurrentTemp = formatTemp(cw.Temperature)
		snapshot.Icon = cond.Icon
		snapshot.Description = cond.Description
		snapshot.Advice = cond.Advice
	}

	if parsed.Hourly != nil {
		snapshot.Hourly = o.hourly(parsed)
	}
	if parsed.Daily != nil {
		snapshot.Daily = daily(parsed)
	}

	return snapshot, nil
}

// hourly picks the next points starting at the slot nearest the current
// time, with a 30 minute grace so xx:01 does not skip the current hour.
// The first point's label is the fixed "now" token.
func (o *OpenMeteo) hourly(parsed openMeteoResponse) []dashb.ForecastPoint {
	h := parsed.Hourly
	now := o.now()

	start := 0
	for i, raw := range h.Time {
		parsed, err := time.ParseInLocation(openMeteoHourLayout, raw, now.Location())
		if err != nil {
			continue
		}
		if !parsed.Before(now.Add(-30 * time.Minute)) {
			start = i
			break
		}
	}

	end := min(start+hourlyPoints, len(h.Time))
	points := make([]dashb.ForecastPoint, 0, hourlyPoints)
	for i := start; i < end; i++ {
		label := nowLabel
		if i != start {
			if parsedTime, err := time.ParseInLocation(openMeteoHourLayout, h.Time[i], now.Location()); err == nil {
				label = parsedTime.Format("15:04")
			} else {
				label = "--:--"
			}
		}

		temp := "--°"
		if i < len(h.Temperature) {
			temp = formatTemp(h.Temperature[i])
		}

		var (
			code = 0
			day  = true
		)
		if i < len(h.WeatherCode) {
			code = h.WeatherCode[i]
		}
		if i < len(h.IsDay) {
			day = h.IsDay[i] == 1
		}

		points = append(points, dashb.ForecastPoint{
			Label: label,
			Icon:  iconForCode(code, day),
			Temp:  temp,
		})
	}

	return points
}

// daily skips today and returns the following days.
func daily(parsed openMeteoResponse) []dashb.DailyPoint {
	d := parsed.Daily

	end := min(1+dailyPoints, len(d.Time))
	points := make([]dashb.DailyPoint, 0, dailyPoints)
	for i := 1; i < end; i++ {
		label := d.Time[i]
		if parsedDay, err := time.Parse(openMeteoDayLayout, d.Time[i]); err == nil {
			label = parsedDay.Format("Mon")
		}

		code := 0
		if i < len(d.Code) {
			code = d.Code[i]
		}

		high, low := "--°", "--°"
		if i < len(d.TempMax) {
			high = formatTemp(d.TempMax[i])
		}
		if i < len(d.TempMin) {
			low = formatTemp(d.TempMin[i])
		}

		points = append(points, dashb.DailyPoint{
			Day:  label,
			Icon: iconForCode(code, true),
			High: high,
			Low:  low,
		})
	}

	return points
}

// formatTemp renders a Celsius reading rounded to the nearest degree.
func formatTemp(celsius float64) string {
	return fmt.Sprintf("%.0f°", celsius)
}
