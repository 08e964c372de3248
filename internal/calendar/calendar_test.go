package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/deviceflow"
)

// memSecrets is an in-memory secret store for tests.
type memSecrets struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemSecrets() *memSecrets {
	return &memSecrets{data: map[string]string{}}
}

func (m *memSecrets) Save(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[namespace+"/"+key] = value
	return nil
}

func (m *memSecrets) Read(_ context.Context, namespace, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[namespace+"/"+key]
	return v, ok, nil
}

func (m *memSecrets) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, namespace+"/"+key)
	return nil
}

// connectedFlow returns a flow client whose token endpoint lives on srvURL
// and which already holds the given tokens.
func connectedFlow(t *testing.T, srvURL, accessToken, refreshToken string) *deviceflow.Client {
	t.Helper()

	secrets := newMemSecrets()
	require.NoError(t, secrets.Save(context.Background(), "dashb.testcal", "access_token", accessToken))
	if refreshToken != "" {
		require.NoError(t, secrets.Save(context.Background(), "dashb.testcal", "refresh_token", refreshToken))
	}

	return deviceflow.New(deviceflow.Provider{
		ID:            "testcal",
		DeviceAuthURL: srvURL + "/device",
		TokenURL:      srvURL + "/token",
		ClientID:      "client-123",
	}, secrets, http.DefaultClient)
}

func TestAuthedGET_RefreshesOnceThenRetries(t *testing.T) {
	var (
		calendarCalls int
		tokenCalls    int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "stale-refresh", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","refresh_token":"fresh-refresh"}`))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		calendarCalls++
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	flow := connectedFlow(t, srv.URL, "stale", "stale-refresh")

	body, err := authedGET(context.Background(), http.DefaultClient, flow, srv.URL+"/data")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, 1, tokenCalls)
	assert.Equal(t, 2, calendarCalls)
}

func TestAuthedGET_SecondUnauthorizedStops(t *testing.T) {
	var calendarCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"still-bad","refresh_token":"r2"}`))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		calendarCalls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	flow := connectedFlow(t, srv.URL, "stale", "stale-refresh")

	_, err := authedGET(context.Background(), http.DefaultClient, flow, srv.URL+"/data")
	require.Error(t, err)
	assert.Equal(t, dasherr.KindAuthRequired, dasherr.KindOf(err))
	// One original attempt plus exactly one retry.
	assert.Equal(t, 2, calendarCalls)
}

func TestAuthedGET_FailedRefreshStops(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// No refresh token stored, so the refresh cannot be attempted.
	flow := connectedFlow(t, srv.URL, "stale", "")

	_, err := authedGET(context.Background(), http.DefaultClient, flow, srv.URL+"/data")
	require.Error(t, err)
	assert.Equal(t, dasherr.KindAuthRequired, dasherr.KindOf(err))
}

func TestAuthedGET_UnexpectedStatusIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	flow := connectedFlow(t, srv.URL, "token", "refresh")

	_, err := authedGET(context.Background(), http.DefaultClient, flow, srv.URL+"/data")
	require.Error(t, err)
	assert.Equal(t, dasherr.KindProtocol, dasherr.KindOf(err))
}

func TestGoogleService_FetchAvailableCalendars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"items":[
			{"id":"primary","summary":"Personal"},
			{"id":"","summary":"ghost"},
			{"id":"work@example.com","summary":"Work"}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	flow := connectedFlow(t, srv.URL, "token", "refresh")
	svc := NewGoogleService(flow, http.DefaultClient, srv.URL, Window{})

	infos, err := svc.FetchAvailableCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "primary", infos[0].ID)
	assert.Equal(t, "Personal", infos[0].Name)
	assert.Equal(t, "work@example.com", infos[1].ID)
}

func TestGoogleService_FetchEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "startTime", r.URL.Query().Get("orderBy"))
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		assert.Equal(t, "15", r.URL.Query().Get("maxResults"))
		w.Write([]byte(`{"items":[
			{"id":"e1","summary":"Standup","location":"Room 1",
			 "start":{"dateTime":"2026-08-31T09:00:00Z"},
			 "end":{"dateTime":"2026-08-31T09:15:00Z"}},
			{"id":"e2","summary":"Holiday",
			 "start":{"date":"2026-09-01"},
			 "end":{"date":"2026-09-02"}},
			{"id":"e3","summary":"Busted",
			 "start":{"dateTime":"not-a-time"}},
			{"id":"e4","summary":"Backwards",
			 "start":{"dateTime":"2026-08-31T12:00:00Z"},
			 "end":{"dateTime":"2026-08-31T11:00:00Z"}}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	flow := connectedFlow(t, srv.URL, "token", "refresh")
	svc := NewGoogleService(flow, http.DefaultClient, srv.URL, Window{})

	events, err := svc.FetchEvents(context.Background(), []string{"primary"})
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "Standup", events[0].Title)
	assert.Equal(t, "Room 1", events[0].Location)
	assert.Equal(t, "primary", events[0].CalendarID)
	assert.False(t, events[0].AllDay)
	assert.Equal(t, 15*time.Minute, events[0].End.Sub(events[0].Start))

	assert.Equal(t, "Holiday", events[1].Title)
	assert.True(t, events[1].AllDay)

	// An end before the start normalizes to a zero-length event.
	assert.Equal(t, "Backwards", events[2].Title)
	assert.True(t, events[2].End.Equal(events[2].Start))
}

func TestGoogleService_FetchEventsSkipsBrokenCalendar(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendars/broken/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/calendars/good/events", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[
			{"id":"e1","summary":"Kept","start":{"dateTime":"2026-08-31T09:00:00Z"},
			 "end":{"dateTime":"2026-08-31T10:00:00Z"}}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	flow := connectedFlow(t, srv.URL, "token", "refresh")
	svc := NewGoogleService(flow, http.DefaultClient, srv.URL, Window{})

	events, err := svc.FetchEvents(context.Background(), []string{"broken", "good"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Kept", events[0].Title)
}

func TestOutlookService_FetchEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars/cal-1/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "start/dateTime", r.URL.Query().Get("$orderby"))
		assert.Equal(t, "100", r.URL.Query().Get("$top"))
		assert.Contains(t, r.URL.Query().Get("$filter"), "start/dateTime ge")
		w.Write([]byte(`{"value":[
			{"id":"o1","subject":"Review",
			 "start":{"dateTime":"2026-08-31T14:00:00.0000000"},
			 "end":{"dateTime":"2026-08-31T15:00:00.0000000"},
			 "location":{"displayName":"Teams"}},
			{"id":"o2","subject":"Offsite","isAllDay":true,
			 "start":{"dateTime":"2026-09-01T00:00:00Z"},
			 "end":{"dateTime":"2026-09-02T00:00:00Z"}},
			{"id":"o3","subject":"Dropped",
			 "start":{"dateTime":"garbage"}}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	flow := connectedFlow(t, srv.URL, "token", "refresh")
	svc := NewOutlookService(flow, http.DefaultClient, srv.URL, Window{})

	events, err := svc.FetchEvents(context.Background(), []string{"cal-1"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Fractional timestamps without a zone suffix are UTC.
	assert.Equal(t, time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC), events[0].Start.UTC())
	assert.Equal(t, "Teams", events[0].Location)
	assert.False(t, events[0].AllDay)

	assert.Equal(t, "Offsite", events[1].Title)
	assert.True(t, events[1].AllDay)
}

func TestOutlookService_FetchAvailableCalendars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/calendars", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[{"id":"cal-1","name":"Calendar"},{"id":"cal-2","name":"Work"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	flow := connectedFlow(t, srv.URL, "token", "refresh")
	svc := NewOutlookService(flow, http.DefaultClient, srv.URL, Window{})

	infos, err := svc.FetchAvailableCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "Work", infos[1].Name)
}
