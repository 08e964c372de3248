// Package httpapi exposes the dashboard state and configuration over a
// small JSON API. It is a data hand-off for a presentation layer, not a
// UI.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/dashb"
	"github.com/dashb/dashb/internal/dashboard"
)

type (
	// Dashboard is the published-state surface the API reads from.
	Dashboard interface {
		Snapshot() dashboard.Snapshot
		RefreshAll(ctx context.Context) dashboard.Snapshot
		RefreshCalendar(ctx context.Context)
	}

	// FeedManager manages the configured feed list.
	FeedManager interface {
		Feeds(ctx context.Context) ([]dashb.FeedConfig, error)
		AddFeed(ctx context.Context, feed dashb.FeedConfig) error
		RemoveFeed(ctx context.Context, rawURL string) error
	}

	// Server serves the public JSON API.
	Server struct {
		http.Server
	}

	Config struct {
		Port int
	}
)

// apiError is the JSON error envelope.
type apiError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %s", err)
	}

	return nil
}

// HandlerFuncE is a modified type of [http.HandlerFunc] that returns an
// error, translated to a status code by error kind.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	status := statusFor(err)
	WriteJSON(w, status, apiError{
		Reason:  http.StatusText(status),
		Message: err.Error(),
	})
}

func statusFor(err error) int {
	switch dasherr.KindOf(err) {
	case dasherr.KindValidation:
		return http.StatusUnprocessableEntity
	case dasherr.KindAuthRequired, dasherr.KindAuth:
		return http.StatusUnauthorized
	case dasherr.KindLocationNotFound:
		return http.StatusNotFound
	case dasherr.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case dasherr.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewServer builds the API server over the dashboard surfaces.
func NewServer(cfg Config, dash Dashboard, feeds FeedManager, providers ...dashb.CalendarService) *Server {
	r := mux.NewRouter()
	registerRoutes(r, dash, feeds, providers)

	return &Server{
		Server: http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			Handler:      handlers.RecoveryHandler()(accessLog{inner: r}),
		},
	}
}

func registerRoutes(r *mux.Router, dash Dashboard, feeds FeedManager, providers []dashb.CalendarService) {
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.Handle("/snapshot", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		return WriteJSON(w, http.StatusOK, dash.Snapshot())
	})).Methods(http.MethodGet)

	v1.Handle("/events", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		return WriteJSON(w, http.StatusOK, dash.Snapshot().Events)
	})).Methods(http.MethodGet)

	v1.Handle("/weather", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		return WriteJSON(w, http.StatusOK, dash.Snapshot().Weather)
	})).Methods(http.MethodGet)

	v1.Handle("/news", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		return WriteJSON(w, http.StatusOK, dash.Snapshot().News)
	})).Methods(http.MethodGet)

	v1.Handle("/refresh", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		return WriteJSON(w, http.StatusOK, dash.RefreshAll(r.Context()))
	})).Methods(http.MethodPost)

	v1.Handle("/feeds", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		list, err := feeds.Feeds(r.Context())
		if err != nil {
			return err
		}
		return WriteJSON(w, http.StatusOK, list)
	})).Methods(http.MethodGet)

	v1.Handle("/feeds", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		var feed dashb.FeedConfig
		if err := json.NewDecoder(r.Body).Decode(&feed); err != nil {
			return dasherr.E(fmt.Errorf("error decoding request: %w", err), dasherr.KindValidation)
		}
		if err := feeds.AddFeed(r.Context(), feed); err != nil {
			return err
		}
		return WriteJSON(w, http.StatusCreated, feed)
	})).Methods(http.MethodPost)

	v1.Handle("/feeds", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		rawURL := r.URL.Query().Get("url")
		if rawURL == "" {
			return dasherr.E("missing url parameter", dasherr.KindValidation)
		}
		if err := feeds.RemoveFeed(r.Context(), rawURL); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})).Methods(http.MethodDelete)

	v1.Handle("/providers", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		type providerStatus struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Connected bool   `json:"connected"`
		}
		statuses := make([]providerStatus, 0, len(providers))
		for _, p := range providers {
			statuses = append(statuses, providerStatus{
				ID:        p.ID(),
				Name:      p.Name(),
				Connected: p.Connected(r.Context()),
			})
		}
		return WriteJSON(w, http.StatusOK, statuses)
	})).Methods(http.MethodGet)

	v1.Handle("/providers/{id}/auth", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		provider := providerByID(providers, mux.Vars(r)["id"])
		if provider == nil {
			return dasherr.E("unknown provider", dasherr.KindValidation)
		}

		challenge, err := provider.StartDeviceAuth(r.Context())
		if err != nil {
			return err
		}

		// Poll server-side; the caller only needs the user code.
		go pollUntilConnected(provider, dash, challenge)

		return WriteJSON(w, http.StatusAccepted, challenge)
	})).Methods(http.MethodPost)

	v1.Handle("/providers/{id}/auth", HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		provider := providerByID(providers, mux.Vars(r)["id"])
		if provider == nil {
			return dasherr.E("unknown provider", dasherr.KindValidation)
		}
		if err := provider.Logout(r.Context()); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})).Methods(http.MethodDelete)
}

func providerByID(providers []dashb.CalendarService, id string) dashb.CalendarService {
	for _, p := range providers {
		if p.ID() == id {
			return p
		}
	}

	return nil
}

// pollUntilConnected polls the token endpoint at the fixed cadence until
// the user approves, the challenge expires, or the provider rejects. A
// successful connect immediately refreshes the calendar section.
func pollUntilConnected(provider dashb.CalendarService, dash Dashboard, challenge dashb.DeviceAuthChallenge) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(challenge.ExpiresIn)*time.Second)
	defer cancel()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Warn("device auth expired before approval", "provider", provider.ID())
			return
		case <-ticker.C:
			connected, err := provider.PollForToken(ctx, challenge.DeviceCode)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Warn("device auth failed", "provider", provider.ID(), "error", err)
				}
				return
			}
			if connected {
				slog.Info("provider connected", "provider", provider.ID())
				dash.RefreshCalendar(context.Background())
				return
			}
		}
	}
}

// accessLog wraps each call with request and completion logs.
type accessLog struct {
	inner http.Handler
}

func (a accessLog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	writer := &respCodeWriter{ResponseWriter: w}
	a.inner.ServeHTTP(writer, r)

	slog.Info("request completed",
		"method", r.Method,
		"url", r.URL.String(),
		"duration", time.Since(start),
		"status_code", writer.code,
	)
}

type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
