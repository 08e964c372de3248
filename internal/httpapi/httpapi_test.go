package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/dashb"
	"github.com/dashb/dashb/internal/dashboard"
)

type fakeDashboard struct {
	snapshot dashboard.Snapshot
	refreshd bool
}

func (f *fakeDashboard) Snapshot() dashboard.Snapshot { return f.snapshot }
func (f *fakeDashboard) RefreshAll(context.Context) dashboard.Snapshot {
	f.refreshd = true
	return f.snapshot
}
func (f *fakeDashboard) RefreshCalendar(context.Context) {}

type fakeFeeds struct {
	feeds  []dashb.FeedConfig
	addErr error
}

func (f *fakeFeeds) Feeds(context.Context) ([]dashb.FeedConfig, error) { return f.feeds, nil }
func (f *fakeFeeds) AddFeed(_ context.Context, feed dashb.FeedConfig) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.feeds = append(f.feeds, feed)
	return nil
}
func (f *fakeFeeds) RemoveFeed(_ context.Context, rawURL string) error {
	kept := f.feeds[:0]
	for _, feed := range f.feeds {
		if feed.URL != rawURL {
			kept = append(kept, feed)
		}
	}
	f.feeds = kept
	return nil
}

type fakeProvider struct {
	id        string
	connected bool
	challenge dashb.DeviceAuthChallenge
	loggedOut bool
}

func (f *fakeProvider) ID() string                     { return f.id }
func (f *fakeProvider) Name() string                   { return f.id }
func (f *fakeProvider) Connected(context.Context) bool { return f.connected }
func (f *fakeProvider) StartDeviceAuth(context.Context) (dashb.DeviceAuthChallenge, error) {
	return f.challenge, nil
}
func (f *fakeProvider) PollForToken(context.Context, string) (bool, error) { return false, nil }
func (f *fakeProvider) Logout(context.Context) error {
	f.loggedOut = true
	return nil
}
func (f *fakeProvider) FetchAvailableCalendars(context.Context) ([]dashb.CalendarInfo, error) {
	return nil, nil
}
func (f *fakeProvider) FetchEvents(context.Context, []string) ([]dashb.Event, error) {
	return nil, nil
}

func newTestRouter(dash Dashboard, feeds FeedManager, providers ...dashb.CalendarService) *mux.Router {
	r := mux.NewRouter()
	registerRoutes(r, dash, feeds, providers)
	return r
}

func TestSnapshotEndpoints(t *testing.T) {
	dash := &fakeDashboard{snapshot: dashboard.Snapshot{
		Greeting: "Good morning, Ada",
		Events:   []dashb.Event{{ID: "e1", Title: "Standup"}},
		Weather:  dashb.WeatherSnapshot{City: "Forlì", CurrentTemp: "21°"},
		News:     []dashb.NewsItem{{ID: "n1", Title: "Headline"}},
	}}
	router := newTestRouter(dash, &fakeFeeds{})

	for _, path := range []string{"/v1/snapshot", "/v1/events", "/v1/weather", "/v1/news"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/snapshot", nil))
	var got dashboard.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Good morning, Ada", got.Greeting)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "Standup", got.Events[0].Title)
}

func TestRefreshEndpoint(t *testing.T) {
	dash := &fakeDashboard{}
	router := newTestRouter(dash, &fakeFeeds{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/refresh", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, dash.refreshd)
}

func TestAddFeed(t *testing.T) {
	feeds := &fakeFeeds{}
	router := newTestRouter(&fakeDashboard{}, feeds)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/feeds",
		strings.NewReader(`{"url":"https://example.com/rss","source":"Example"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, feeds.feeds, 1)
}

func TestAddFeed_ValidationErrorMapsTo422(t *testing.T) {
	feeds := &fakeFeeds{addErr: dasherr.E("feed url must use https", dasherr.KindValidation)}
	router := newTestRouter(&fakeDashboard{}, feeds)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/feeds",
		strings.NewReader(`{"url":"http://example.com/rss","source":"Example"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var apiErr apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Contains(t, apiErr.Message, "https")
}

func TestAddFeed_MalformedBody(t *testing.T) {
	router := newTestRouter(&fakeDashboard{}, &fakeFeeds{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/feeds", strings.NewReader("{")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRemoveFeed(t *testing.T) {
	feeds := &fakeFeeds{feeds: []dashb.FeedConfig{{URL: "https://example.com/rss", Source: "Example"}}}
	router := newTestRouter(&fakeDashboard{}, feeds)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/feeds?url=https%3A%2F%2Fexample.com%2Frss", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, feeds.feeds)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/feeds", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProviderList(t *testing.T) {
	router := newTestRouter(&fakeDashboard{}, &fakeFeeds{},
		&fakeProvider{id: "google", connected: true},
		&fakeProvider{id: "outlook"},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/providers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var statuses []struct {
		ID        string `json:"id"`
		Connected bool   `json:"connected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Connected)
	assert.False(t, statuses[1].Connected)
}

func TestStartProviderAuth(t *testing.T) {
	provider := &fakeProvider{id: "google", challenge: dashb.DeviceAuthChallenge{
		UserCode:        "ABCD-EFGH",
		VerificationURI: "https://example.com/device",
		DeviceCode:      "dev-1",
		ExpiresIn:       1,
	}}
	router := newTestRouter(&fakeDashboard{}, &fakeFeeds{}, provider)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/providers/google/auth", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var challenge dashb.DeviceAuthChallenge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	assert.Equal(t, "ABCD-EFGH", challenge.UserCode)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/providers/unknown/auth", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProviderLogout(t *testing.T) {
	provider := &fakeProvider{id: "google", connected: true}
	router := newTestRouter(&fakeDashboard{}, &fakeFeeds{}, provider)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/providers/google/auth", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, provider.loggedOut)
}
