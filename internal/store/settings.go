package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/dashb/dashb/internal/dashb"
)

// Keys for the user configuration values the dashboard persists.
const (
	keySelectedCity      = "weather.selected_city"
	keyUseManualLocation = "weather.use_manual_location"
	keyFeeds             = "news.feeds"
	keyDisplayName       = "user.display_name"
	keyGreetingEnabled   = "user.greeting_enabled"

	selectedCalendarsKeyFmt = "calendar.%s.selected"
)

// Settings is the sqlite key-value store for user configuration.
type Settings struct {
	db *sqlx.DB
}

// NewSettings creates a new instance of Settings.
func NewSettings(dbx *sqlx.DB) Settings {
	return Settings{
		db: dbx,
	}
}

func (s Settings) set(ctx context.Context, key, value string) error {
	query, args, err := sq.Insert("settings").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP").
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error saving setting %s: %s", key, err)
	}

	return nil
}

func (s Settings) get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM settings WHERE key = ?;`

	var value string
	err := s.db.GetContext(ctx, &value, q, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error reading setting %s: %s", key, err)
	}

	return value, true, nil
}

func (s Settings) getBool(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return fallback, err
	}

	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, nil
	}

	return b, nil
}

// SelectedCity returns the manually entered city, empty when unset.
func (s Settings) SelectedCity(ctx context.Context) (string, error) {
	city, _, err := s.get(ctx, keySelectedCity)
	return city, err
}

func (s Settings) SetSelectedCity(ctx context.Context, city string) error {
	return s.set(ctx, keySelectedCity, city)
}

func (s Settings) UseManualLocation(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyUseManualLocation, false)
}

func (s Settings) SetUseManualLocation(ctx context.Context, manual bool) error {
	return s.set(ctx, keyUseManualLocation, strconv.FormatBool(manual))
}

func (s Settings) DisplayName(ctx context.Context) (string, error) {
	name, _, err := s.get(ctx, keyDisplayName)
	return name, err
}

func (s Settings) SetDisplayName(ctx context.Context, name string) error {
	return s.set(ctx, keyDisplayName, name)
}

func (s Settings) GreetingEnabled(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyGreetingEnabled, true)
}

func (s Settings) SetGreetingEnabled(ctx context.Context, enabled bool) error {
	return s.set(ctx, keyGreetingEnabled, strconv.FormatBool(enabled))
}

// SelectedCalendars returns the configured calendar selection for one
// provider. Order is not meaningful; the selection is a set keyed by id.
func (s Settings) SelectedCalendars(ctx context.Context, providerID string) ([]dashb.CalendarInfo, error) {
	raw, ok, err := s.get(ctx, fmt.Sprintf(selectedCalendarsKeyFmt, providerID))
	if err != nil || !ok {
		return nil, err
	}

	var infos []dashb.CalendarInfo
	if err := json.Unmarshal([]byte(raw), &infos); err != nil {
		return nil, fmt.Errorf("error decoding calendar selection: %s", err)
	}

	return infos, nil
}

func (s Settings) SetSelectedCalendars(ctx context.Context, providerID string, infos []dashb.CalendarInfo) error {
	raw, err := json.Marshal(infos)
	if err != nil {
		return fmt.Errorf("error encoding calendar selection: %s", err)
	}

	return s.set(ctx, fmt.Sprintf(selectedCalendarsKeyFmt, providerID), string(raw))
}

// Feeds returns the configured feed list, or fallback when none was saved yet.
func (s Settings) Feeds(ctx context.Context, fallback []dashb.FeedConfig) ([]dashb.FeedConfig, error) {
	raw, ok, err := s.get(ctx, keyFeeds)
	if err != nil {
		return nil, err
	}
	if !ok {
		return fallback, nil
	}

	var feeds []dashb.FeedConfig
	if err := json.Unmarshal([]byte(raw), &feeds); err != nil {
		return nil, fmt.Errorf("error decoding feed list: %s", err)
	}

	return feeds, nil
}

func (s Settings) SetFeeds(ctx context.Context, feeds []dashb.FeedConfig) error {
	raw, err := json.Marshal(feeds)
	if err != nil {
		return fmt.Errorf("error encoding feed list: %s", err)
	}

	return s.set(ctx, keyFeeds, string(raw))
}

// FeedSettings binds Settings to a default feed list so consumers see the
// defaults until the user saves their own.
type FeedSettings struct {
	Settings Settings
	Defaults []dashb.FeedConfig
}

func (f FeedSettings) Feeds(ctx context.Context) ([]dashb.FeedConfig, error) {
	return f.Settings.Feeds(ctx, f.Defaults)
}

func (f FeedSettings) SetFeeds(ctx context.Context, feeds []dashb.FeedConfig) error {
	return f.Settings.SetFeeds(ctx, feeds)
}
