package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

const (
	defaultScrapeInterval = time.Second
	maxScrapeContentSize  = 10 * 1024 * 1024
	defaultSitemapPages   = 10
	scrapeRequestTimeout  = 30 * time.Second
)

// contentSelectors are tried in order; the first match wins
var contentSelectors = []string{
	"article",
	"main",
	`[role="main"]`,
	".content",
	"#content",
	".post-content",
	".article-content",
	".entry-content",
}

// URLScrapeAdapter fetches and extracts text from web pages
type URLScrapeAdapter struct {
	userAgent     string
	respectRobots bool
	interval      time.Duration
	client        *http.Client
	logger        observability.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	robots   map[string][]robotsRule
}

// URLScrapeConfig configures the scraper
type URLScrapeConfig struct {
	UserAgent     string
	RespectRobots bool
	MinInterval   time.Duration
}

// NewURLScrapeAdapter creates the adapter
func NewURLScrapeAdapter(cfg URLScrapeConfig, logger observability.Logger) *URLScrapeAdapter {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "rake-ingestion/1.0"
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultScrapeInterval
	}
	return &URLScrapeAdapter{
		userAgent:     cfg.UserAgent,
		respectRobots: cfg.RespectRobots,
		interval:      cfg.MinInterval,
		client:        &http.Client{Timeout: scrapeRequestTimeout},
		logger:        logger.WithPrefix("source-url-scrape"),
		limiters:      make(map[string]*rate.Limiter),
		robots:        make(map[string][]robotsRule),
	}
}

var _ Source = (*URLScrapeAdapter)(nil)

// Name implements Source
func (a *URLScrapeAdapter) Name() string { return KindURLScrape }

// ValidateInput implements Source
func (a *URLScrapeAdapter) ValidateInput(input map[string]interface{}) error {
	raw, _ := input["url"].(string)
	if raw == "" {
		return &ValidationError{Source: KindURLScrape, Field: "url", Msg: "url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Source: KindURLScrape, Field: "url", Msg: fmt.Sprintf("not a valid http(s) URL: %q", raw)}
	}
	return nil
}

// Fetch implements Source. mode "sitemap" treats the URL as a sitemap index
// and scrapes each listed page.
func (a *URLScrapeAdapter) Fetch(ctx context.Context, input map[string]interface{}) ([]*models.RawDocument, error) {
	if err := a.ValidateInput(input); err != nil {
		return nil, err
	}
	rawURL := input["url"].(string)
	mode, _ := input["mode"].(string)
	tenantID, _ := input["tenant_id"].(string)

	// Deduplication is scoped to one fetch; independent jobs may revisit
	// the same URL.
	visited := make(map[string]bool)

	if mode == "sitemap" {
		maxPages := intFromInput(input, "max_pages", defaultSitemapPages)
		return a.fetchSitemap(ctx, rawURL, maxPages, tenantID, visited)
	}

	doc, err := a.scrapePage(ctx, rawURL, tenantID, visited)
	if err != nil {
		return nil, err
	}
	return []*models.RawDocument{doc}, nil
}

// fetchSitemap scrapes every <loc> entry of a sitemap, up to maxPages.
// Pages blocked by robots or already visited are skipped, not fatal.
func (a *URLScrapeAdapter) fetchSitemap(ctx context.Context, sitemapURL string, maxPages int, tenantID string, visited map[string]bool) ([]*models.RawDocument, error) {
	body, err := a.get(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	var sitemap struct {
		Locs []string `xml:"url>loc"`
	}
	if err := xml.Unmarshal(body, &sitemap); err != nil || len(sitemap.Locs) == 0 {
		// Sitemap index files nest <sitemap><loc> one level up.
		var index struct {
			Locs []string `xml:"sitemap>loc"`
		}
		if err2 := xml.Unmarshal(body, &index); err2 == nil && len(index.Locs) > 0 {
			sitemap.Locs = index.Locs
		} else if err != nil {
			return nil, &FetchError{Source: KindURLScrape, Msg: "cannot parse sitemap", Err: err}
		}
	}

	var docs []*models.RawDocument
	for _, loc := range sitemap.Locs {
		if len(docs) >= maxPages {
			break
		}
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		doc, err := a.scrapePage(ctx, loc, tenantID, visited)
		if err != nil {
			a.logger.Warn("Skipping sitemap entry", map[string]interface{}{
				"url":   loc,
				"error": err.Error(),
			})
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, &FetchError{Source: KindURLScrape, Msg: fmt.Sprintf("no pages could be scraped from sitemap %s", sitemapURL)}
	}
	return docs, nil
}

// scrapePage fetches one page and extracts its main content and metadata
func (a *URLScrapeAdapter) scrapePage(ctx context.Context, rawURL, tenantID string, visited map[string]bool) (*models.RawDocument, error) {
	if visited[rawURL] {
		return nil, &FetchError{Source: KindURLScrape, Msg: fmt.Sprintf("url already visited: %s", rawURL)}
	}
	visited[rawURL] = true

	if a.respectRobots {
		allowed, err := a.robotsAllowed(ctx, rawURL)
		if err != nil {
			// Unreachable robots.txt does not block scraping.
			a.logger.Debug("robots.txt check failed, allowing", map[string]interface{}{
				"url":   rawURL,
				"error": err.Error(),
			})
		} else if !allowed {
			return nil, &FetchError{Source: KindURLScrape, Msg: fmt.Sprintf("blocked by robots.txt: %s", rawURL)}
		}
	}

	body, err := a.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if len(body) > maxScrapeContentSize {
		return nil, &FetchError{
			Source: KindURLScrape,
			Msg:    fmt.Sprintf("content size %d exceeds limit of %d bytes", len(body), maxScrapeContentSize),
		}
	}

	page, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, &FetchError{Source: KindURLScrape, Msg: "cannot parse HTML", Err: err}
	}

	metadata := extractPageMetadata(page)
	metadata["source_url"] = rawURL

	content := extractMainContent(page)
	if strings.TrimSpace(content) == "" {
		return nil, &FetchError{Source: KindURLScrape, Msg: fmt.Sprintf("no text content at %s", rawURL)}
	}

	return &models.RawDocument{
		ID:        models.NewDocumentID(),
		Source:    KindURLScrape,
		URL:       rawURL,
		Content:   content,
		Metadata:  metadata,
		FetchedAt: time.Now().UTC(),
		TenantID:  tenantID,
	}, nil
}

// extractMainContent pulls readable text from the page, preferring the
// first matching content container over the whole body.
func extractMainContent(page *goquery.Document) string {
	page.Find("script, style, nav, header, footer, aside, iframe, noscript").Remove()

	for _, selector := range contentSelectors {
		sel := page.Find(selector)
		if sel.Length() > 0 {
			if text := normalizeSpace(sel.First().Text()); text != "" {
				return text
			}
		}
	}
	return normalizeSpace(page.Find("body").Text())
}

func normalizeSpace(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// extractPageMetadata collects the standard document metadata from head tags
func extractPageMetadata(page *goquery.Document) map[string]interface{} {
	metadata := map[string]interface{}{}

	if title := strings.TrimSpace(page.Find("title").First().Text()); title != "" {
		metadata["title"] = title
	}

	metaNames := map[string]string{
		"description":            "description",
		"author":                 "author",
		"keywords":               "keywords",
		"article:published_time": "published_time",
	}
	page.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if name == "" {
			name, _ = s.Attr("property")
		}
		content, _ := s.Attr("content")
		if content == "" {
			return
		}
		if key, ok := metaNames[name]; ok {
			metadata[key] = content
		}
		switch name {
		case "og:title":
			metadata["og_title"] = content
		case "og:type":
			metadata["og_type"] = content
		case "og:description":
			metadata["og_description"] = content
		}
	})

	if canonical, ok := page.Find(`link[rel="canonical"]`).Attr("href"); ok {
		metadata["canonical_url"] = canonical
	}
	if lang, ok := page.Find("html").Attr("lang"); ok {
		metadata["language"] = lang
	}
	return metadata
}

// get issues a GET rate-limited per target domain
func (a *URLScrapeAdapter) get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ValidationError{Source: KindURLScrape, Field: "url", Msg: err.Error()}
	}
	if err := a.limiterFor(u.Host).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Source: KindURLScrape, Msg: "cannot build request", Err: err}
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: KindURLScrape, Msg: fmt.Sprintf("request to %s failed", rawURL), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: KindURLScrape, Msg: fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, rawURL)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScrapeContentSize+1))
	if err != nil {
		return nil, &FetchError{Source: KindURLScrape, Msg: "cannot read response body", Err: err}
	}
	return body, nil
}

func (a *URLScrapeAdapter) limiterFor(host string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(a.interval), 1)
		a.limiters[host] = l
	}
	return l
}

// HealthCheck implements Source. The scraper has no fixed backing system.
func (a *URLScrapeAdapter) HealthCheck(ctx context.Context) error { return nil }

// Close implements Source
func (a *URLScrapeAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
