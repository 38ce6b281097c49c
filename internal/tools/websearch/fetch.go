package websearch

import (
	"context"
	"fmt"
)

// fetchMaxChars caps the page content returned to the model.
const fetchMaxChars = 10000

// Fetcher implements the browse-url tool: fetch one page and return its
// readable content, capped so a large article cannot flood the context.
type Fetcher struct {
	extractor *ContentExtractor
	maxChars  int
}

// FetcherOption customizes Fetcher construction.
type FetcherOption func(*Fetcher)

// WithExtractor overrides the default content extractor. Tests use this to
// allow localhost URLs.
func WithExtractor(extractor *ContentExtractor) FetcherOption {
	return func(f *Fetcher) {
		if extractor != nil {
			f.extractor = extractor
		}
	}
}

// NewFetcher creates a browse-url fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		extractor: NewContentExtractor(),
		maxChars:  fetchMaxChars,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the page at rawURL and returns its text content. The URL
// is validated before any network traffic happens.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}
	if !f.extractor.skipSSRFCheck {
		if err := ValidateURL(rawURL); err != nil {
			return "", err
		}
	}

	content, err := f.extractor.Extract(ctx, rawURL)
	if err != nil {
		return "", err
	}

	if len(content) > f.maxChars {
		content = content[:f.maxChars] + "\n\n[Content truncated]"
	}

	return fmt.Sprintf("Content from %s:\n\n%s", rawURL, content), nil
}
