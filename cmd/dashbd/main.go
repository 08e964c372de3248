package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/dashb/dashb/internal/calendar"
	"github.com/dashb/dashb/internal/config"
	"github.com/dashb/dashb/internal/dashboard"
	"github.com/dashb/dashb/internal/deviceflow"
	"github.com/dashb/dashb/internal/httpapi"
	"github.com/dashb/dashb/internal/location"
	"github.com/dashb/dashb/internal/news"
	"github.com/dashb/dashb/internal/store"
	"github.com/dashb/dashb/internal/weather"
	"github.com/dashb/dashb/logger"
)

type envConfig struct {
	Database   string `env:"DATABASE, default=dashb.db"`
	ConfigFile string `env:"CONFIG_FILE"`
	Port       int    `env:"PORT, default=4444"`
	LogFormat  string `env:"LOG_FORMAT, default=text"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var env envConfig
	if err := envconfig.Process(ctx, &env); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stdout, env.LogFormat))

	cfg, err := config.Load(env.ConfigFile)
	if err != nil {
		log.Fatalf("error loading config file: %s", err)
	}

	// Connect to the sqlite db and run all migrations
	dbx, err := store.Open(env.Database)
	if err != nil {
		log.Fatalf("error opening database: %s", err)
	}
	defer dbx.Close()

	if err := store.Migrate(dbx); err != nil {
		log.Fatalf("error running migrations: %s", err)
	}

	secrets := store.NewSecrets(dbx)
	settings := store.NewSettings(dbx)
	feedStore := store.FeedSettings{Settings: settings, Defaults: cfg.DefaultFeeds()}

	httpClient := &http.Client{Timeout: 15 * time.Second}

	// Calendar providers over the shared device flow
	googleFlow := deviceflow.New(deviceflow.Provider{
		ID:            "google",
		DeviceAuthURL: "https://oauth2.googleapis.com/device/code",
		TokenURL:      "https://oauth2.googleapis.com/token",
		ClientID:      cfg.Providers.Google.ClientID,
		ClientSecret:  cfg.Providers.Google.ClientSecret,
		Scope:         cfg.Providers.Google.Scope,
	}, secrets, httpClient)
	outlookFlow := deviceflow.New(deviceflow.Provider{
		ID:            "outlook",
		DeviceAuthURL: "https://login.microsoftonline.com/common/oauth2/v2.0/devicecode",
		TokenURL:      "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		ClientID:      cfg.Providers.Outlook.ClientID,
		ClientSecret:  cfg.Providers.Outlook.ClientSecret,
		Scope:         cfg.Providers.Outlook.Scope,
	}, secrets, httpClient)

	google := calendar.NewGoogleService(googleFlow, httpClient, "", calendar.Window{})
	outlook := calendar.NewOutlookService(outlookFlow, httpClient, "", calendar.Window{})
	events := calendar.NewAggregator(settings, google, outlook)

	// Headless deployment: no device geocoder or GPS, so device requests
	// resolve the configured default city.
	resolver := location.NewResolver(location.Options{
		HTTPClient:  httpClient,
		DefaultCity: cfg.DefaultCity,
		Language:    cfg.Language,
	})

	forecast := weather.NewResolver(nil, weather.NewOpenMeteo(httpClient, ""))
	forecast.UseMockOnFailure = cfg.Weather.UseMockOnFailure

	feeds := news.NewAggregator(feedStore, httpClient, news.NewEnricher(nil))

	refresher := dashboard.NewRefresher(events, feeds, forecast, resolver, settings)

	scheduler := cron.New()
	if err := refresher.Schedule(scheduler); err != nil {
		log.Fatalf("error scheduling refreshes: %s", err)
	}

	server := httpapi.NewServer(httpapi.Config{Port: env.Port}, refresher, feeds, google, outlook)

	var g run.Group
	g.Add(func() error {
		slog.Info("initial refresh")
		refresher.RefreshAll(ctx)
		scheduler.Run()
		return nil
	}, func(error) {
		<-scheduler.Stop().Done()
	})
	g.Add(func() error {
		slog.Info("api listening", "port", env.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error serving api: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if err := g.Run(); err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) {
			slog.Info("shutting down", "signal", sig.Signal)
			return
		}
		log.Fatalf("error running: %s", err)
	}
}
