package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/dashb"
	"github.com/dashb/dashb/internal/deviceflow"
)

const googleDateOnlyLayout = "2006-01-02"

// GoogleService lists calendars and events from the Google-shaped API.
type GoogleService struct {
	flow    *deviceflow.Client
	http    *http.Client
	baseURL string
	window  Window
}

// NewGoogleService wires the service over an authenticated flow client.
// baseURL defaults to the public calendar API.
func NewGoogleService(flow *deviceflow.Client, httpClient *http.Client, baseURL string, window Window) *GoogleService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/calendar/v3"
	}
	if window.MaxResults == 0 {
		// Provider policy: from start of today, no upper bound, 15 results
		// ordered by start time.
		window.MaxResults = 15
	}

	return &GoogleService{
		flow:    flow,
		http:    httpClient,
		baseURL: baseURL,
		window:  window,
	}
}

func (s *GoogleService) ID() string   { return "google" }
func (s *GoogleService) Name() string { return "Google Calendar" }

func (s *GoogleService) Connected(ctx context.Context) bool {
	return s.flow.Connected(ctx)
}

func (s *GoogleService) StartDeviceAuth(ctx context.Context) (dashb.DeviceAuthChallenge, error) {
	return s.flow.StartDeviceAuth(ctx)
}

func (s *GoogleService) PollForToken(ctx context.Context, deviceCode string) (bool, error) {
	return s.flow.PollForToken(ctx, deviceCode)
}

func (s *GoogleService) Logout(ctx context.Context) error {
	return s.flow.Logout(ctx)
}

type googleCalendarList struct {
	Items []struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
	} `json:"items"`
}

func (s *GoogleService) FetchAvailableCalendars(ctx context.Context) ([]dashb.CalendarInfo, error) {
	body, err := authedGET(ctx, s.http, s.flow, s.baseURL+"/users/me/calendarList")
	if err != nil {
		return nil, fmt.Errorf("error listing calendars: %w", err)
	}

	var list googleCalendarList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, dasherr.E(fmt.Errorf("unparseable calendar list: %w", err), dasherr.KindProtocol)
	}

	infos := make([]dashb.CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		if item.ID == "" {
			continue
		}
		infos = append(infos, dashb.CalendarInfo{ID: item.ID, Name: item.Summary})
	}

	return infos, nil
}

// Google marks all-day events with a date-only field instead of dateTime.
type googleEventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

type googleEventList struct {
	Items []struct {
		ID       string          `json:"id"`
		Summary  string          `json:"summary"`
		Location string          `json:"location"`
		Start    googleEventTime `json:"start"`
		End      googleEventTime `json:"end"`
	} `json:"items"`
}

func (t googleEventTime) parse() (time.Time, bool, bool) {
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		return parsed, false, err == nil
	}
	if t.Date != "" {
		parsed, err := time.ParseInLocation(googleDateOnlyLayout, t.Date, time.Local)
		return parsed, true, err == nil
	}

	return time.Time{}, false, false
}

// FetchEvents lists events for the given calendars. Per-calendar failures
// are logged and skipped so one broken calendar cannot empty the batch;
// only an authentication failure is reported to the caller, alongside
// whatever was already collected.
func (s *GoogleService) FetchEvents(ctx context.Context, calendarIDs []string) ([]dashb.Event, error) {
	var all []dashb.Event
	for _, calendarID := range calendarIDs {
		events, err := s.fetchCalendarEvents(ctx, calendarID)
		if dasherr.KindOf(err) == dasherr.KindAuthRequired {
			return all, err
		}
		if err != nil {
			slog.Warn("skipping calendar", "provider", s.ID(), "calendar", calendarID, "error", err)
			continue
		}
		all = append(all, events...)
	}

	return all, nil
}

func (s *GoogleService) fetchCalendarEvents(ctx context.Context, calendarID string) ([]dashb.Event, error) {
	q := url.Values{
		"orderBy":      {"startTime"},
		"singleEvents": {"true"},
		"timeMin":      {startOfDay(time.Now()).Format(time.RFC3339)},
		"maxResults":   {fmt.Sprint(s.window.MaxResults)},
	}
	if s.window.Days > 0 {
		q.Set("timeMax", startOfDay(time.Now()).AddDate(0, 0, s.window.Days).Format(time.RFC3339))
	}
	u := fmt.Sprintf("%s/calendars/%s/events?%s", s.baseURL, url.PathEscape(calendarID), q.Encode())

	body, err := authedGET(ctx, s.http, s.flow, u)
	if err != nil {
		return nil, err
	}

	var list googleEventList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, dasherr.E(fmt.Errorf("unparseable event list: %w", err), dasherr.KindProtocol)
	}

	events := make([]dashb.Event, 0, len(list.Items))
	for _, item := range list.Items {
		start, allDay, ok := item.Start.parse()
		if !ok {
			continue
		}

		end := start
		if parsed, _, ok := item.End.parse(); ok {
			end = parsed
		}
		if end.Before(start) {
			end = start
		}

		events = append(events, dashb.Event{
			ID:         item.ID,
			Title:      item.Summary,
			Start:      start,
			End:        end,
			Location:   item.Location,
			CalendarID: calendarID,
			AllDay:     allDay,
		})
	}

	return events, nil
}
