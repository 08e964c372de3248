// Package config loads the dashboard defaults: a YAML file for the
// swappable configuration data (default city, feed list, provider
// identities) with environment overrides for the secret parts.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dashb/dashb/internal/dashb"
)

const (
	googleClientIDEnv      = "GOOGLE_CLIENT_ID"
	googleClientSecretEnv  = "GOOGLE_CLIENT_SECRET"
	outlookClientIDEnv     = "OUTLOOK_CLIENT_ID"
	outlookClientSecretEnv = "OUTLOOK_CLIENT_SECRET"
)

// Config holds the defaults injected into the dashboard at construction.
type Config struct {
	DefaultCity string          `yaml:"defaultCity"`
	Language    string          `yaml:"language"`
	Providers   ProvidersConfig `yaml:"providers"`
	Feeds       []FeedConfig    `yaml:"feeds"`
	Weather     WeatherConfig   `yaml:"weather"`
}

// ProvidersConfig carries both calendar providers' OAuth client identities.
type ProvidersConfig struct {
	Google  OAuthClientConfig `yaml:"google"`
	Outlook OAuthClientConfig `yaml:"outlook"`
}

// OAuthClientConfig identifies one registered OAuth client.
type OAuthClientConfig struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	Scope        string `yaml:"scope"`
}

// FeedConfig is one default feed entry.
type FeedConfig struct {
	URL    string `yaml:"url"`
	Source string `yaml:"source"`
}

// WeatherConfig holds the weather behavior toggles.
type WeatherConfig struct {
	// UseMockOnFailure substitutes deterministic sample data when every
	// weather source fails. Development aid, off by default.
	UseMockOnFailure bool `yaml:"useMockOnFailure"`
}

// Load reads the YAML file at path when non-empty, merges it over the
// built-in defaults, and applies environment overrides for credentials.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config file: %w", err)
		}
		cfg = merge(cfg, fileCfg)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// DefaultFeeds converts the configured feed entries to the domain shape.
func (c Config) DefaultFeeds() []dashb.FeedConfig {
	feeds := make([]dashb.FeedConfig, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		feeds = append(feeds, dashb.FeedConfig{URL: f.URL, Source: f.Source})
	}

	return feeds
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(googleClientIDEnv); v != "" {
		c.Providers.Google.ClientID = v
	}
	if v := os.Getenv(googleClientSecretEnv); v != "" {
		c.Providers.Google.ClientSecret = v
	}
	if v := os.Getenv(outlookClientIDEnv); v != "" {
		c.Providers.Outlook.ClientID = v
	}
	if v := os.Getenv(outlookClientSecretEnv); v != "" {
		c.Providers.Outlook.ClientSecret = v
	}
}

func merge(base, override Config) Config {
	if override.DefaultCity != "" {
		base.DefaultCity = override.DefaultCity
	}
	if override.Language != "" {
		base.Language = override.Language
	}
	if override.Providers.Google.ClientID != "" {
		base.Providers.Google = override.Providers.Google
	}
	if override.Providers.Outlook.ClientID != "" {
		base.Providers.Outlook = override.Providers.Outlook
	}
	if len(override.Feeds) > 0 {
		base.Feeds = override.Feeds
	}
	if override.Weather.UseMockOnFailure {
		base.Weather.UseMockOnFailure = true
	}

	return base
}

func defaultConfig() Config {
	return Config{
		DefaultCity: "Forlì",
		Language:    "en",
		Providers: ProvidersConfig{
			Google:  OAuthClientConfig{Scope: "https://www.googleapis.com/auth/calendar.readonly"},
			Outlook: OAuthClientConfig{Scope: "offline_access Calendars.Read"},
		},
		Feeds: []FeedConfig{
			{URL: "https://www.ansa.it/emiliaromagna/notizie/emiliaromagna_rss.xml", Source: "ANSA"},
			{URL: "https://www.forlitoday.it/rss", Source: "ForlìToday"},
			{URL: "https://www.ilrestodelcarlino.it/forli/rss", Source: "Il Resto del Carlino"},
			{URL: "https://www.corriereromagna.it/forli/feed/", Source: "Corriere Romagna"},
			{URL: "https://www.comune.forli.fc.it/it/notizie/rss", Source: "Comune di Forlì"},
			{URL: "https://www.comune.forli.fc.it/it/eventi/rss", Source: "Eventi Forlì"},
		},
	}
}
