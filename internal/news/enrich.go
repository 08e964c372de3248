package news

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dashb/dashb/internal/dashb"
)

const (
	// enrichTop bounds how deep into the ranked list the enrichment pass
	// reaches.
	enrichTop = 12

	// enrichBatch bounds how many article pages are fetched at once, to
	// respect slow or rate-limited origin servers.
	enrichBatch = 3

	// enrichCacheSize bounds the per-article-URL result cache.
	enrichCacheSize = 120

	maxArticlePayload = 2 << 20
)

// Enricher patches Open Graph preview images into news items. All of its
// failures are silent: a slow or broken article page just leaves that
// item's image unset.
type Enricher struct {
	http  *http.Client
	cache *lru.Cache[string, string]
}

func NewEnricher(httpClient *http.Client) *Enricher {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        enrichBatch,
				MaxConnsPerHost:     enrichBatch,
				MaxIdleConnsPerHost: enrichBatch,
			},
		}
	}
	cache, _ := lru.New[string, string](enrichCacheSize)

	return &Enricher{http: httpClient, cache: cache}
}

// Enrich fills ImageURL in place for the top items that lack one.
// fallbackImages maps item id to an image harvested from the item's own
// description markup, used when the article page has no Open Graph tag.
func (e *Enricher) Enrich(ctx context.Context, items []dashb.NewsItem, fallbackImages map[string]string) {
	top := items
	if len(top) > enrichTop {
		top = top[:enrichTop]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichBatch)
	for i := range top {
		if top[i].ImageURL != "" || top[i].Link == "" {
			continue
		}

		i := i
		g.Go(func() error {
			img := e.articleImage(gctx, top[i].Link)
			if img == "" {
				img = fallbackImages[top[i].ID]
			}
			top[i].ImageURL = img
			return nil
		})
	}
	_ = g.Wait()
}

// articleImage resolves the Open Graph image for an article URL, cached
// per URL for the process lifetime. Negative results are cached too.
func (e *Enricher) articleImage(ctx context.Context, articleURL string) string {
	if cached, ok := e.cache.Get(articleURL); ok {
		return cached
	}

	img := e.scrapeOGImage(ctx, articleURL)
	e.cache.Add(articleURL, img)

	return img
}

func (e *Enricher) scrapeOGImage(ctx context.Context, articleURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return ""
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxArticlePayload))
	if err != nil {
		return ""
	}

	if content, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	if content, ok := doc.Find(`meta[name="og:image"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}

	return ""
}

// firstImageInMarkup pulls the first img src out of an HTML fragment.
func firstImageInMarkup(markup string) string {
	if !strings.Contains(markup, "<img") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}

	src, _ := doc.Find("img").First().Attr("src")
	return strings.TrimSpace(src)
}
