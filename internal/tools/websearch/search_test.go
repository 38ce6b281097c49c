package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func searxngServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("format = %q, want json", r.URL.Query().Get("format"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"results": [
				{"title": "Go Programming Language", "url": "https://go.dev", "content": "Build simple, secure, scalable systems"},
				{"title": "Go Wiki", "url": "https://go.dev/wiki", "content": "Community wiki"},
				{"title": "Third", "url": "https://example.com/3", "content": "c3"},
				{"title": "Fourth", "url": "https://example.com/4", "content": "c4"},
				{"title": "Fifth", "url": "https://example.com/5", "content": "c5"},
				{"title": "Sixth", "url": "https://example.com/6", "content": "c6"}
			]
		}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSearcherSearXNG(t *testing.T) {
	server := searxngServer(t, nil)
	searcher := NewSearcher(Config{SearXNGURL: server.URL})

	response, err := searcher.Search(context.Background(), "golang")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if response.Backend != BackendSearXNG {
		t.Errorf("backend = %q, want %q", response.Backend, BackendSearXNG)
	}
	if response.Query != "golang" {
		t.Errorf("query = %q", response.Query)
	}
	// Six backend hits, default cap of five.
	if len(response.Results) != 5 {
		t.Fatalf("got %d results, want 5", len(response.Results))
	}
	first := response.Results[0]
	if first.Title != "Go Programming Language" || first.URL != "https://go.dev" {
		t.Errorf("first result = %+v", first)
	}
}

func TestSearcherMaxResults(t *testing.T) {
	server := searxngServer(t, nil)
	searcher := NewSearcher(Config{SearXNGURL: server.URL, MaxResults: 2})

	response, err := searcher.Search(context.Background(), "golang")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(response.Results) != 2 {
		t.Errorf("got %d results, want 2", len(response.Results))
	}
}

func TestSearcherEmptyQuery(t *testing.T) {
	searcher := NewSearcher(Config{})
	if _, err := searcher.Search(context.Background(), "   "); err == nil {
		t.Error("expected error for blank query")
	}
}

func TestSearcherCaching(t *testing.T) {
	var hits atomic.Int32
	server := searxngServer(t, &hits)
	searcher := NewSearcher(Config{SearXNGURL: server.URL, CacheTTL: 60})

	for i := 0; i < 3; i++ {
		if _, err := searcher.Search(context.Background(), "golang"); err != nil {
			t.Fatalf("Search %d: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("backend hit %d times, want 1", got)
	}

	// A different query is its own cache entry.
	if _, err := searcher.Search(context.Background(), "rustlang"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("backend hit %d times, want 2", got)
	}
}

func TestSearcherCacheExpiry(t *testing.T) {
	var hits atomic.Int32
	server := searxngServer(t, &hits)
	searcher := NewSearcher(Config{SearXNGURL: server.URL, CacheTTL: 60})

	if _, err := searcher.Search(context.Background(), "golang"); err != nil {
		t.Fatalf("Search: %v", err)
	}

	// Force the entry to expire instead of sleeping.
	searcher.cacheMu.Lock()
	searcher.cache["golang"].expiresAt = time.Now().Add(-time.Second)
	searcher.cacheMu.Unlock()

	if _, err := searcher.Search(context.Background(), "golang"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("backend hit %d times, want 2", got)
	}
}

func TestFormatResults(t *testing.T) {
	response := &Response{
		Query: "golang",
		Results: []Result{
			{Title: "Go", URL: "https://go.dev", Snippet: "The Go programming language"},
			{Title: "Wiki", URL: "https://go.dev/wiki"},
		},
	}
	formatted := FormatResults(response)

	if !strings.HasPrefix(formatted, `Search results for "golang":`) {
		t.Errorf("header: %q", formatted)
	}
	if !strings.Contains(formatted, "1. Go\n   https://go.dev\n   The Go programming language") {
		t.Errorf("first entry missing:\n%s", formatted)
	}
	if !strings.Contains(formatted, "2. Wiki\n   https://go.dev/wiki") {
		t.Errorf("second entry missing:\n%s", formatted)
	}
}

func TestFormatResultsEmpty(t *testing.T) {
	formatted := FormatResults(&Response{Query: "nothing here"})
	if formatted != `No results found for "nothing here".` {
		t.Errorf("formatted = %q", formatted)
	}
}
