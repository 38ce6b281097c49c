// Package mailsearch implements the search-mailbox tool.
//
// The fetcher fans out thread detail lookups in fixed-size batches with a
// fixed delay between batches, and stops accepting batches once a token
// budget is reached so one broad query cannot flood the model's context.
package mailsearch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/mailpilot/pkg/models"
)

const (
	// maxResults is the hard cap on threads fetched per call, regardless
	// of what the model asked for.
	maxResults = 10

	// batchSize is the number of concurrent detail fetches per batch.
	batchSize = 3

	// batchDelay is the fixed pause between batches. A static guess at a
	// polite rate, not adaptive to 429 responses.
	batchDelay = 500 * time.Millisecond

	// excerptChars caps the body excerpt per thread.
	excerptChars = 1500

	// tokenBudget caps the approximate token total across all accepted
	// batches. Sized so a search of full-length threads stops after three
	// batches instead of filling the model's context.
	tokenBudget = 3500
)

// ThreadRef identifies one candidate thread from the initial lookup.
type ThreadRef struct {
	ID string
}

// MailboxProvider is the remote mailbox the fetcher reads from.
type MailboxProvider interface {
	// ListThreads returns candidate thread refs for a query plus the
	// backend's total-match estimate, which may exceed len(refs).
	ListThreads(ctx context.Context, accessToken, query string, maxResults int) ([]ThreadRef, int, error)

	// GetThread fetches full detail for one thread.
	GetThread(ctx context.Context, accessToken, id string) (*models.EmailThread, error)
}

// Fetcher runs budgeted batch mailbox searches. Safe for concurrent use.
type Fetcher struct {
	provider MailboxProvider
	logger   *slog.Logger

	// delay is batchDelay in production; tests shorten it.
	delay time.Duration
}

// NewFetcher creates a fetcher backed by provider.
func NewFetcher(provider MailboxProvider, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		provider: provider,
		logger:   logger,
		delay:    batchDelay,
	}
}

// Search looks up threads matching query and returns the formatted
// observation text for the model.
//
// requested is the model's asked-for result count; it is capped to
// maxResults. Individual fetch failures are logged and skipped, never
// fatal: a degraded result beats an aborted tool call.
func (f *Fetcher) Search(ctx context.Context, accessToken, query string, requested int) (string, error) {
	limit := requested
	if limit <= 0 || limit > maxResults {
		limit = maxResults
	}

	refs, totalEstimate, err := f.provider.ListThreads(ctx, accessToken, query, limit)
	if err != nil {
		return "", fmt.Errorf("mailbox lookup failed: %w", err)
	}
	if len(refs) > limit {
		refs = refs[:limit]
	}
	if len(refs) == 0 {
		return fmt.Sprintf("No emails found matching %q.", query), nil
	}

	var accepted []*models.EmailThread
	accumulatedTokens := 0
	stoppedEarly := false

	for start := 0; start < len(refs); start += batchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.delay):
			}
		}

		end := start + batchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := f.fetchBatch(ctx, accessToken, refs[start:end])

		batchTokens := 0
		for _, thread := range batch {
			batchTokens += estimateTokens(formatThread(thread))
		}

		// The whole batch is accepted or rejected. Once a batch would
		// push past the budget, stop; earlier batches are never rolled
		// back.
		if accumulatedTokens+batchTokens > tokenBudget {
			stoppedEarly = true
			break
		}

		accepted = append(accepted, batch...)
		accumulatedTokens += batchTokens
	}

	return formatResults(query, totalEstimate, len(refs), accepted, stoppedEarly), nil
}

// fetchBatch fetches every ref concurrently and waits for all of them.
// Failed fetches are dropped from the batch.
func (f *Fetcher) fetchBatch(ctx context.Context, accessToken string, refs []ThreadRef) []*models.EmailThread {
	results := make([]*models.EmailThread, len(refs))

	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref ThreadRef) {
			defer wg.Done()
			thread, err := f.provider.GetThread(ctx, accessToken, ref.ID)
			if err != nil {
				f.logger.Debug("thread fetch failed", "thread_id", ref.ID, "error", err)
				return
			}
			results[i] = thread
		}(i, ref)
	}
	wg.Wait()

	fetched := make([]*models.EmailThread, 0, len(refs))
	for _, thread := range results {
		if thread != nil {
			fetched = append(fetched, thread)
		}
	}
	return fetched
}

// estimateTokens approximates token count as character count over four.
// Deliberately not a real tokenizer: the budget governs how many threads
// are included, and exact tokenization would change that observable count.
func estimateTokens(text string) int {
	return len(text) / 4
}

// formatThread renders one thread's content section, with the body excerpt
// capped at excerptChars.
func formatThread(thread *models.EmailThread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", thread.Subject)

	var body strings.Builder
	for _, msg := range thread.Messages {
		fmt.Fprintf(&body, "From %s (%s):\n", msg.From, msg.Date)
		content := msg.Body
		if content == "" {
			content = msg.Snippet
		}
		body.WriteString(content)
		body.WriteString("\n\n")
	}

	excerpt := strings.TrimSpace(body.String())
	if len(excerpt) > excerptChars {
		excerpt = excerpt[:excerptChars] + "... [truncated]"
	}
	b.WriteString(excerpt)

	return b.String()
}

// formatResults builds the full observation text: totals, a cross-thread
// synopsis, then each accepted thread's content.
func formatResults(query string, totalEstimate, fetched int, threads []*models.EmailThread, stoppedEarly bool) string {
	var b strings.Builder

	total := totalEstimate
	if total < fetched {
		total = fetched
	}
	fmt.Fprintf(&b, "Found %d emails matching %q (showing %d):\n\n", total, query, len(threads))

	if synopsis := buildSynopsis(threads); synopsis != "" {
		b.WriteString(synopsis)
		b.WriteString("\n")
	}

	// Thread IDs surface here so the model can pass them to snooze and the
	// other thread-scoped tools.
	for i, thread := range threads {
		fmt.Fprintf(&b, "--- Email %d (thread %s) ---\n", i+1, thread.ID)
		b.WriteString(formatThread(thread))
		b.WriteString("\n\n")
	}

	if stoppedEarly {
		fmt.Fprintf(&b, "[Stopped early: content budget reached after %d threads. Narrow the query to see more.]", len(threads))
	}

	return strings.TrimSpace(b.String())
}

// buildSynopsis summarizes participants and the date range across threads.
func buildSynopsis(threads []*models.EmailThread) string {
	if len(threads) == 0 {
		return ""
	}

	seen := make(map[string]bool)
	var participants []string
	var earliest, latest string

	for _, thread := range threads {
		for _, msg := range thread.Messages {
			if msg.From != "" && !seen[msg.From] {
				seen[msg.From] = true
				participants = append(participants, msg.From)
			}
			if msg.Date == "" {
				continue
			}
			if earliest == "" || msg.Date < earliest {
				earliest = msg.Date
			}
			if latest == "" || msg.Date > latest {
				latest = msg.Date
			}
		}
	}

	var b strings.Builder
	if len(participants) > 0 {
		sort.Strings(participants)
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(participants, ", "))
	}
	if earliest != "" {
		if earliest == latest {
			fmt.Fprintf(&b, "Date: %s\n", earliest)
		} else {
			fmt.Fprintf(&b, "Dates: %s to %s\n", earliest, latest)
		}
	}
	return b.String()
}
