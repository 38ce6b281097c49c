// Package websearch implements the web-search and browse-url tools.
//
// Search runs against a configured SearXNG instance when available and
// falls back to DuckDuckGo's Instant Answer API otherwise. Responses are
// cached briefly so the model re-requesting the same query inside one
// conversation does not hit the backend again.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Backend identifies a search backend.
type Backend string

const (
	BackendSearXNG    Backend = "searxng"
	BackendDuckDuckGo Backend = "duckduckgo"

	// maxCacheSize bounds cached responses.
	maxCacheSize = 1000

	userAgent = "Mozilla/5.0 (compatible; MailpilotBot/1.0)"
)

// Config holds search backend configuration.
type Config struct {
	// SearXNGURL is the base URL of a SearXNG instance. When empty, all
	// searches go to DuckDuckGo.
	SearXNGURL string `yaml:"searxng_url"`

	// MaxResults is the default result count per query.
	MaxResults int `yaml:"max_results"`

	// CacheTTL is the cache lifetime in seconds.
	CacheTTL int `yaml:"cache_ttl"`
}

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Response is a complete search response.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Backend Backend  `json:"backend"`
}

type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher performs web searches with caching and backend fallback.
// Safe for concurrent use.
type Searcher struct {
	config     Config
	httpClient *http.Client
	cache      map[string]*cacheEntry
	cacheMu    sync.RWMutex
}

// NewSearcher creates a searcher, applying defaults for unset config fields.
func NewSearcher(config Config) *Searcher {
	if config.MaxResults <= 0 {
		config.MaxResults = 5
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 300
	}

	return &Searcher{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: make(map[string]*cacheEntry),
	}
}

// Search runs one query. A failing SearXNG backend falls back to
// DuckDuckGo before the search is reported as failed.
func (s *Searcher) Search(ctx context.Context, query string) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	if cached := s.fromCache(query); cached != nil {
		return cached, nil
	}

	var response *Response
	var err error

	if s.config.SearXNGURL != "" {
		response, err = s.searchSearXNG(ctx, query)
		if err != nil {
			response, err = s.searchDuckDuckGo(ctx, query)
		}
	} else {
		response, err = s.searchDuckDuckGo(ctx, query)
	}
	if err != nil {
		return nil, err
	}

	s.putCache(query, response)
	return response, nil
}

// FormatResults renders a response as the numbered plain-text list fed back
// to the model.
func FormatResults(response *Response) string {
	if len(response.Results) == 0 {
		return fmt.Sprintf("No results found for %q.", response.Query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n\n", response.Query)
	for i, r := range response.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Searcher) fromCache(query string) *Response {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	entry, ok := s.cache[query]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

func (s *Searcher) putCache(query string, response *Response) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	now := time.Now()
	for k, v := range s.cache {
		if now.After(v.expiresAt) {
			delete(s.cache, k)
		}
	}

	// Still at capacity after expiry cleanup: evict the soonest-to-expire.
	for len(s.cache) >= maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range s.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(s.cache, oldestKey)
	}

	s.cache[query] = &cacheEntry{
		response:  response,
		expiresAt: now.Add(time.Duration(s.config.CacheTTL) * time.Second),
	}
}

func (s *Searcher) searchSearXNG(ctx context.Context, query string) (*Response, error) {
	searchURL, err := url.Parse(s.config.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid SearXNG URL: %w", err)
	}

	values := url.Values{}
	values.Set("q", query)
	values.Set("format", "json")
	values.Set("pageno", "1")
	values.Set("categories", "general")
	searchURL.Path = "/search"
	searchURL.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SearXNG returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, s.config.MaxResults)
	for i := 0; i < len(payload.Results) && i < s.config.MaxResults; i++ {
		r := payload.Results[i]
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
		})
	}

	return &Response{Query: query, Results: results, Backend: BackendSearXNG}, nil
}

func (s *Searcher) searchDuckDuckGo(ctx context.Context, query string) (*Response, error) {
	instantURL := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instantURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DuckDuckGo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var payload struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0)
	if payload.AbstractText != "" && payload.AbstractURL != "" {
		results = append(results, Result{
			Title:   payload.Heading,
			URL:     payload.AbstractURL,
			Snippet: payload.AbstractText,
		})
	}
	for i := 0; i < len(payload.RelatedTopics) && len(results) < s.config.MaxResults; i++ {
		topic := payload.RelatedTopics[i]
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{
			Title:   title,
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}

	return &Response{Query: query, Results: results, Backend: BackendDuckDuckGo}, nil
}
