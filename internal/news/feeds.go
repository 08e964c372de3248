package news

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/dashb"
)

// FeedStore persists the configured feed list.
type FeedStore interface {
	Feeds(ctx context.Context) ([]dashb.FeedConfig, error)
	SetFeeds(ctx context.Context, feeds []dashb.FeedConfig) error
}

var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

// ValidateFeedURL enforces the config-time feed URL policy: absolute
// HTTPS with a non-empty, non-loopback host. Rejections happen here, at
// input time; invalid URLs never reach the network layer.
func ValidateFeedURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return dasherr.E(fmt.Errorf("unparseable feed url: %w", err), dasherr.KindValidation)
	}
	if parsed.Scheme != "https" {
		return dasherr.E("feed url must use https", dasherr.KindValidation)
	}
	if parsed.Hostname() == "" {
		return dasherr.E("feed url host is empty", dasherr.KindValidation)
	}
	if loopbackHosts[parsed.Hostname()] {
		return dasherr.E("feed url host is loopback", dasherr.KindValidation)
	}

	return nil
}

// normalizeFeedURL is the duplicate-detection key.
func normalizeFeedURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Scheme = strings.ToLower(parsed.Scheme)

	return strings.TrimSuffix(parsed.String(), "/")
}

// AddFeed validates and appends a feed, rejecting duplicates by
// normalized URL.
func (a *Aggregator) AddFeed(ctx context.Context, feed dashb.FeedConfig) error {
	if err := ValidateFeedURL(feed.URL); err != nil {
		return err
	}
	if strings.TrimSpace(feed.Source) == "" {
		return dasherr.E("feed source name is empty", dasherr.KindValidation)
	}

	feeds, err := a.store.Feeds(ctx)
	if err != nil {
		return fmt.Errorf("error loading feeds: %w", err)
	}

	key := normalizeFeedURL(feed.URL)
	for _, existing := range feeds {
		if normalizeFeedURL(existing.URL) == key {
			return dasherr.E(fmt.Errorf("feed already configured: %s", feed.URL), dasherr.KindValidation)
		}
	}

	return a.store.SetFeeds(ctx, append(feeds, feed))
}

// RemoveFeed deletes a feed by normalized URL. Removing an unknown URL is
// a no-op.
func (a *Aggregator) RemoveFeed(ctx context.Context, rawURL string) error {
	feeds, err := a.store.Feeds(ctx)
	if err != nil {
		return fmt.Errorf("error loading feeds: %w", err)
	}

	key := normalizeFeedURL(rawURL)
	kept := feeds[:0]
	for _, feed := range feeds {
		if normalizeFeedURL(feed.URL) != key {
			kept = append(kept, feed)
		}
	}

	return a.store.SetFeeds(ctx, kept)
}

// Feeds lists the configured feeds.
func (a *Aggregator) Feeds(ctx context.Context) ([]dashb.FeedConfig, error) {
	return a.store.Feeds(ctx)
}
