// Package news merges the configured RSS sources into one ranked,
// image-enriched item list.
package news

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/dashb/dashb/internal/dasherr"
	"github.com/dashb/dashb/internal/dashb"
)

const (
	// maxFeedPayload caps a single feed response. Oversized feeds are
	// skipped, not truncated.
	maxFeedPayload = 2 << 20

	maxItems = 50
)

// Aggregator fetches all configured feeds concurrently, merges and ranks
// their items, and runs the separate image enrichment pass over the top of
// the list. Refresh cycles are serialized and the published list is only
// replaced whole.
type Aggregator struct {
	store    FeedStore
	http     *http.Client
	enricher *Enricher
	strip    *bluemonday.Policy

	fetchMu sync.Mutex
	// fallbacks maps item id to the first image found in the item's own
	// description markup, kept for the enrichment pass after the display
	// text has been flattened. Guarded by fetchMu.
	fallbacks map[string]string

	pubMu sync.RWMutex
	items []dashb.NewsItem
}

func NewAggregator(store FeedStore, httpClient *http.Client, enricher *Enricher) *Aggregator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Aggregator{
		store:    store,
		http:     httpClient,
		enricher: enricher,
		strip:    bluemonday.StrictPolicy(),
	}
}

// Items returns the last published list.
func (a *Aggregator) Items() []dashb.NewsItem {
	a.pubMu.RLock()
	defer a.pubMu.RUnlock()

	out := make([]dashb.NewsItem, len(a.items))
	copy(out, a.items)
	return out
}

// FetchNews runs one refresh cycle. Per-feed failures shrink the result
// and never fail the cycle; after the merged list is published, the
// enrichment pass patches images into the published items in place.
func (a *Aggregator) FetchNews(ctx context.Context) ([]dashb.NewsItem, error) {
	a.fetchMu.Lock()
	defer a.fetchMu.Unlock()

	feeds, err := a.store.Feeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading feeds: %w", err)
	}

	type feedResult struct {
		items     []dashb.NewsItem
		fallbacks map[string]string
	}

	results := make([]feedResult, len(feeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, feed := range feeds {
		i, feed := i, feed
		g.Go(func() error {
			items, fallbacks, err := a.fetchFeed(gctx, feed)
			if err != nil {
				slog.Warn("skipping feed", "source", feed.Source, "url", feed.URL, "error", err)
				return nil
			}
			results[i] = feedResult{items: items, fallbacks: fallbacks}
			return nil
		})
	}
	_ = g.Wait()

	var merged []dashb.NewsItem
	a.fallbacks = map[string]string{}
	for _, result := range results {
		merged = append(merged, result.items...)
		for id, img := range result.fallbacks {
			a.fallbacks[id] = img
		}
	}

	// Dated items rank by date descending; undated ones sort after every
	// dated item, keeping their relative order.
	sort.SliceStable(merged, func(i, j int) bool {
		di, dj := merged[i].RawDate, merged[j].RawDate
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.After(*dj)
		}
	})

	if len(merged) > maxItems {
		merged = merged[:maxItems]
	}

	a.pubMu.Lock()
	a.items = merged
	a.pubMu.Unlock()

	if a.enricher != nil {
		a.enrichPublished(ctx)
	}

	return a.Items(), nil
}

// enrichPublished runs the enrichment pass over a copy of the published
// head and patches the results back in by item id.
func (a *Aggregator) enrichPublished(ctx context.Context) {
	head := a.Items()
	a.enricher.Enrich(ctx, head, a.fallbacks)

	a.pubMu.Lock()
	defer a.pubMu.Unlock()

	byID := make(map[string]string, len(head))
	for _, item := range head {
		if item.ImageURL != "" {
			byID[item.ID] = item.ImageURL
		}
	}
	for i := range a.items {
		if img, ok := byID[a.items[i].ID]; ok && a.items[i].ImageURL == "" {
			a.items[i].ImageURL = img
		}
	}
}

func (a *Aggregator) fetchFeed(ctx context.Context, feed dashb.FeedConfig) ([]dashb.NewsItem, map[string]string, error) {
	// Validation happens at config time; a bad stored URL fails request
	// construction here and becomes a skip, never a crash.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("error building feed request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, nil, dasherr.E(err, dasherr.KindNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, dasherr.E(fmt.Errorf("unexpected status code: %d", resp.StatusCode), dasherr.KindProtocol)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedPayload+1))
	if err != nil {
		return nil, nil, dasherr.E(err, dasherr.KindNetwork)
	}
	if len(body) > maxFeedPayload {
		return nil, nil, dasherr.E("feed payload exceeds size cap", dasherr.KindProtocol)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, nil, dasherr.E(fmt.Errorf("unparseable feed: %w", err), dasherr.KindProtocol)
	}

	items := make([]dashb.NewsItem, 0, len(parsed.Items))
	fallbacks := map[string]string{}
	for _, entry := range parsed.Items {
		item := dashb.NewsItem{
			ID:          uuid.NewString(),
			Title:       a.cleanText(entry.Title),
			Description: a.cleanText(entry.Description),
			PubDate:     strings.TrimSpace(entry.Published),
			Link:        strings.TrimSpace(entry.Link),
			Source:      feed.Source,
		}
		if entry.PublishedParsed != nil {
			t := *entry.PublishedParsed
			item.RawDate = &t
		}
		if entry.Image != nil {
			item.ImageURL = entry.Image.URL
		}
		if img := firstImageInMarkup(entry.Description); img != "" {
			fallbacks[item.ID] = img
		}
		items = append(items, item)
	}

	return items, fallbacks, nil
}

// cleanText flattens feed markup to plain display text.
func (a *Aggregator) cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(a.strip.Sanitize(s)))
}
