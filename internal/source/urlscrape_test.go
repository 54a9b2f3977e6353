package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Boswecw/rake/internal/observability"
)

const testPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Go Concurrency Patterns</title>
  <meta name="description" content="Pipelines and cancellation">
  <meta name="author" content="T. Writer">
  <meta name="keywords" content="go,concurrency">
  <meta property="og:title" content="Go Concurrency Patterns (OG)">
  <meta property="og:type" content="article">
  <link rel="canonical" href="https://example.com/canonical">
</head>
<body>
  <nav>Home | About</nav>
  <script>console.log("ignore me")</script>
  <article>
    <h1>Go Concurrency Patterns</h1>
    <p>Channels orchestrate; mutexes serialize.</p>
  </article>
  <footer>Copyright</footer>
</body>
</html>`

func newScraper(respectRobots bool) *URLScrapeAdapter {
	return NewURLScrapeAdapter(URLScrapeConfig{
		UserAgent:     "rake-test/1.0",
		RespectRobots: respectRobots,
		MinInterval:   time.Millisecond,
	}, observability.NewNoopLogger())
}

func TestURLScrapeAdapter_ValidateInput(t *testing.T) {
	a := newScraper(false)

	assert.Error(t, a.ValidateInput(map[string]interface{}{}))
	assert.Error(t, a.ValidateInput(map[string]interface{}{"url": "not a url"}))
	assert.Error(t, a.ValidateInput(map[string]interface{}{"url": "ftp://example.com"}))
	assert.NoError(t, a.ValidateInput(map[string]interface{}{"url": "https://example.com/page"}))
}

func TestURLScrapeAdapter_FetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testPage))
	}))
	defer srv.Close()

	a := newScraper(false)
	docs, err := a.Fetch(context.Background(), map[string]interface{}{
		"url": srv.URL + "/post",
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Contains(t, doc.Content, "Channels orchestrate")
	assert.NotContains(t, doc.Content, "ignore me")
	assert.NotContains(t, doc.Content, "Home | About")
	assert.NotContains(t, doc.Content, "Copyright")

	assert.Equal(t, "Go Concurrency Patterns", doc.Metadata["title"])
	assert.Equal(t, "Pipelines and cancellation", doc.Metadata["description"])
	assert.Equal(t, "T. Writer", doc.Metadata["author"])
	assert.Equal(t, "Go Concurrency Patterns (OG)", doc.Metadata["og_title"])
	assert.Equal(t, "article", doc.Metadata["og_type"])
	assert.Equal(t, "https://example.com/canonical", doc.Metadata["canonical_url"])
	assert.Equal(t, "en", doc.Metadata["language"])
}

func TestURLScrapeAdapter_VisitedScopedToOneFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testPage))
	}))
	defer srv.Close()

	a := newScraper(false)
	input := map[string]interface{}{"url": srv.URL + "/once"}

	docs, err := a.Fetch(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	// A later independent fetch of the same URL must succeed again.
	docs, err = a.Fetch(context.Background(), input)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestURLScrapeAdapter_SitemapDeduplicatesWithinFetch(t *testing.T) {
	var mux *http.ServeMux
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	mux = http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<urlset>
  <url><loc>` + srv.URL + `/a</loc></url>
  <url><loc>` + srv.URL + `/a</loc></url>
  <url><loc>` + srv.URL + `/b</loc></url>
</urlset>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testPage))
	})

	a := newScraper(false)
	docs, err := a.Fetch(context.Background(), map[string]interface{}{
		"url":  srv.URL + "/sitemap.xml",
		"mode": "sitemap",
	})
	require.NoError(t, err)
	// The duplicate /a entry is skipped within the job.
	assert.Len(t, docs, 2)
}

func TestURLScrapeAdapter_RobotsBlocked(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testPage))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newScraper(true)

	_, err := a.Fetch(context.Background(), map[string]interface{}{
		"url": srv.URL + "/private/page",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked by robots.txt")

	docs, err := a.Fetch(context.Background(), map[string]interface{}{
		"url": srv.URL + "/public/page",
	})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestURLScrapeAdapter_RobotsUnreachableAllows(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testPage))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newScraper(true)
	docs, err := a.Fetch(context.Background(), map[string]interface{}{
		"url": srv.URL + "/page",
	})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestURLScrapeAdapter_Sitemap(t *testing.T) {
	var mux *http.ServeMux
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	mux = http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<urlset>
  <url><loc>` + srv.URL + `/a</loc></url>
  <url><loc>` + srv.URL + `/b</loc></url>
  <url><loc>` + srv.URL + `/c</loc></url>
</urlset>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(testPage))
	})

	a := newScraper(false)
	docs, err := a.Fetch(context.Background(), map[string]interface{}{
		"url":  srv.URL + "/sitemap.xml",
		"mode": "sitemap",
	})
	require.NoError(t, err)
	// /b fails and is skipped, /a and /c succeed.
	assert.Len(t, docs, 2)
}

func TestURLScrapeAdapter_SitemapMaxPages(t *testing.T) {
	var mux *http.ServeMux
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	mux = http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<urlset>
  <url><loc>` + srv.URL + `/1</loc></url>
  <url><loc>` + srv.URL + `/2</loc></url>
  <url><loc>` + srv.URL + `/3</loc></url>
</urlset>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testPage))
	})

	a := newScraper(false)
	docs, err := a.Fetch(context.Background(), map[string]interface{}{
		"url":       srv.URL + "/sitemap.xml",
		"mode":      "sitemap",
		"max_pages": 2,
	})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestParseRobots(t *testing.T) {
	rules := parseRobots(`# comment
User-agent: *
Disallow: /admin
Disallow: /private

User-agent: rake-test
Disallow: /internal
`)
	require.Len(t, rules, 3)
	assert.Equal(t, robotsRule{userAgent: "*", path: "/admin"}, rules[0])
	assert.Equal(t, robotsRule{userAgent: "*", path: "/private"}, rules[1])
	assert.Equal(t, robotsRule{userAgent: "rake-test", path: "/internal"}, rules[2])
}

func TestParseRobots_SharedAgentBlock(t *testing.T) {
	rules := parseRobots(`User-agent: alpha
User-agent: beta
Disallow: /x
`)
	require.Len(t, rules, 2)
	assert.Equal(t, "alpha", rules[0].userAgent)
	assert.Equal(t, "beta", rules[1].userAgent)
}
