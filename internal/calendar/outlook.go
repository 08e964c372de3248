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

// Graph answers some date-times without a zone suffix and with seven
// fractional digits; those are UTC.
const outlookFractionalLayout = "2006-01-02T15:04:05.9999999"

// OutlookService lists calendars and events from the Microsoft-shaped API.
type OutlookService struct {
	flow    *deviceflow.Client
	http    *http.Client
	baseURL string
	window  Window
}

// NewOutlookService wires the service over an authenticated flow client.
// baseURL defaults to the public graph API.
func NewOutlookService(flow *deviceflow.Client, httpClient *http.Client, baseURL string, window Window) *OutlookService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://graph.microsoft.com/v1.0"
	}
	if window.Days == 0 {
		// Provider policy: today through +3 days, up to 100 results.
		window.Days = 3
	}
	if window.MaxResults == 0 {
		window.MaxResults = 100
	}

	return &OutlookService{
		flow:    flow,
		http:    httpClient,
		baseURL: baseURL,
		window:  window,
	}
}

func (s *OutlookService) ID() string   { return "outlook" }
func (s *OutlookService) Name() string { return "Outlook / Microsoft 365" }

func (s *OutlookService) Connected(ctx context.Context) bool {
	return s.flow.Connected(ctx)
}

func (s *OutlookService) StartDeviceAuth(ctx context.Context) (dashb.DeviceAuthChallenge, error) {
	return s.flow.StartDeviceAuth(ctx)
}

func (s *OutlookService) PollForToken(ctx context.Context, deviceCode string) (bool, error) {
	return s.flow.PollForToken(ctx, deviceCode)
}

func (s *OutlookService) Logout(ctx context.Context) error {
	return s.flow.Logout(ctx)
}

type outlookCalendarList struct {
	Value []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"value"`
}

func (s *OutlookService) FetchAvailableCalendars(ctx context.Context) ([]dashb.CalendarInfo, error) {
	body, err := authedGET(ctx, s.http, s.flow, s.baseURL+"/me/calendars")
	if err != nil {
		return nil, fmt.Errorf("error listing calendars: %w", err)
	}

	var list outlookCalendarList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, dasherr.E(fmt.Errorf("unparseable calendar list: %w", err), dasherr.KindProtocol)
	}

	infos := make([]dashb.CalendarInfo, 0, len(list.Value))
	for _, item := range list.Value {
		if item.ID == "" {
			continue
		}
		infos = append(infos, dashb.CalendarInfo{ID: item.ID, Name: item.Name})
	}

	return infos, nil
}

type outlookEventList struct {
	Value []struct {
		ID      string `json:"id"`
		Subject string `json:"subject"`
		Start   struct {
			DateTime string `json:"dateTime"`
		} `json:"start"`
		End struct {
			DateTime string `json:"dateTime"`
		} `json:"end"`
		Location struct {
			DisplayName string `json:"displayName"`
		} `json:"location"`
		IsAllDay bool `json:"isAllDay"`
	} `json:"value"`
}

// parseOutlookTime attempts strict ISO-8601 first and falls back to the
// fractional-seconds variant without a zone suffix.
func parseOutlookTime(raw string) (time.Time, bool) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, true
	}
	if parsed, err := time.ParseInLocation(outlookFractionalLayout, raw, time.UTC); err == nil {
		return parsed, true
	}

	return time.Time{}, false
}

// FetchEvents lists events for the given calendars with the same failure
// isolation as the Google service.
func (s *OutlookService) FetchEvents(ctx context.Context, calendarIDs []string) ([]dashb.Event, error) {
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

func (s *OutlookService) fetchCalendarEvents(ctx context.Context, calendarID string) ([]dashb.Event, error) {
	var (
		from = startOfDay(time.Now())
		to   = from.AddDate(0, 0, s.window.Days)
	)
	q := url.Values{
		"$filter": {fmt.Sprintf("start/dateTime ge '%s' and start/dateTime le '%s'",
			from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))},
		"$orderby": {"start/dateTime"},
		"$top":     {fmt.Sprint(s.window.MaxResults)},
	}
	u := fmt.Sprintf("%s/me/calendars/%s/events?%s", s.baseURL, url.PathEscape(calendarID), q.Encode())

	body, err := authedGET(ctx, s.http, s.flow, u)
	if err != nil {
		return nil, err
	}

	var list outlookEventList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, dasherr.E(fmt.Errorf("unparseable event list: %w", err), dasherr.KindProtocol)
	}

	events := make([]dashb.Event, 0, len(list.Value))
	for _, item := range list.Value {
		start, ok := parseOutlookTime(item.Start.DateTime)
		if !ok {
			// Neither format matched; drop the event rather than guess.
			continue
		}

		end := start
		if parsed, ok := parseOutlookTime(item.End.DateTime); ok && !parsed.Before(start) {
			end = parsed
		}

		events = append(events, dashb.Event{
			ID:         item.ID,
			Title:      item.Subject,
			Start:      start,
			End:        end,
			Location:   item.Location.DisplayName,
			CalendarID: calendarID,
			AllDay:     item.IsAllDay,
		})
	}

	return events, nil
}
