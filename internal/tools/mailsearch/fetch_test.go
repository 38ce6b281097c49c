package mailsearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/mailpilot/pkg/models"
)

// fakeMailbox serves canned threads and records which IDs were fetched.
type fakeMailbox struct {
	mu      sync.Mutex
	refs    []ThreadRef
	total   int
	threads map[string]*models.EmailThread
	failing map[string]bool
	listErr error

	fetched []string
}

func (m *fakeMailbox) ListThreads(ctx context.Context, accessToken, query string, maxResults int) ([]ThreadRef, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	return m.refs, m.total, nil
}

func (m *fakeMailbox) GetThread(ctx context.Context, accessToken, id string) (*models.EmailThread, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, id)
	m.mu.Unlock()

	if m.failing[id] {
		return nil, errors.New("backend unavailable")
	}
	thread, ok := m.threads[id]
	if !ok {
		return nil, fmt.Errorf("no thread %s", id)
	}
	return thread, nil
}

func (m *fakeMailbox) fetchedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetched)
}

func makeThread(id, from, date string, bodyLen int) *models.EmailThread {
	return &models.EmailThread{
		ID:      id,
		Subject: "Thread " + id,
		Messages: []models.EmailMessage{
			{
				ID:   id + "-m1",
				From: from,
				Date: date,
				Body: strings.Repeat("x", bodyLen),
			},
		},
	}
}

// makeMailbox builds a mailbox with n threads t1..tn, each with a body of
// bodyLen characters.
func makeMailbox(n, bodyLen int) *fakeMailbox {
	m := &fakeMailbox{
		total:   n,
		threads: make(map[string]*models.EmailThread),
		failing: make(map[string]bool),
	}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("t%d", i)
		m.refs = append(m.refs, ThreadRef{ID: id})
		m.threads[id] = makeThread(id, fmt.Sprintf("sender%d@example.com", i), fmt.Sprintf("2026-08-%02dT10:00:00Z", i), bodyLen)
	}
	return m
}

func newTestFetcher(provider MailboxProvider) *Fetcher {
	f := NewFetcher(provider, nil)
	f.delay = time.Millisecond
	return f
}

func TestSearchNoResults(t *testing.T) {
	mailbox := &fakeMailbox{threads: map[string]*models.EmailThread{}}
	fetcher := newTestFetcher(mailbox)

	result, err := fetcher.Search(context.Background(), "tok", "from:nobody", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result != `No emails found matching "from:nobody".` {
		t.Errorf("result = %q", result)
	}
}

func TestSearchListFailure(t *testing.T) {
	mailbox := &fakeMailbox{listErr: errors.New("quota exceeded")}
	fetcher := newTestFetcher(mailbox)

	if _, err := fetcher.Search(context.Background(), "tok", "q", 5); err == nil {
		t.Fatal("expected error from list failure")
	}
}

func TestSearchCapsRequestedResults(t *testing.T) {
	mailbox := makeMailbox(12, 40)
	fetcher := newTestFetcher(mailbox)

	result, err := fetcher.Search(context.Background(), "tok", "newsletter", 20)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	// 12 candidates, requested 20, cap is 10.
	if mailbox.fetchedCount() != 10 {
		t.Errorf("fetched %d threads, want 10", mailbox.fetchedCount())
	}
	if !strings.Contains(result, "(showing 10)") {
		t.Errorf("result header: %q", firstLine(result))
	}
	if !strings.Contains(result, "--- Email 10 (thread t10) ---") {
		t.Error("missing tenth email section with its thread id")
	}
}

func TestSearchStopsAtTokenBudget(t *testing.T) {
	// Each thread hits the excerpt cap and formats to ~1534 chars, so ~383
	// tokens. Three batches of 3 fit under the budget; the fourth batch
	// would overflow and is rejected whole.
	mailbox := makeMailbox(12, 2600)
	fetcher := newTestFetcher(mailbox)

	result, err := fetcher.Search(context.Background(), "tok", "big", 12)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if !strings.Contains(result, "(showing 9)") {
		t.Errorf("expected 9 threads shown, header: %q", firstLine(result))
	}
	if strings.Contains(result, "(thread t10)") {
		t.Error("tenth thread should have been rejected with its batch")
	}
	if !strings.Contains(result, "[Stopped early: content budget reached after 9 threads.") {
		t.Errorf("missing stopped-early note in:\n%s", lastLine(result))
	}
}

func TestSearchDropsFailedFetches(t *testing.T) {
	mailbox := makeMailbox(6, 40)
	mailbox.failing["t2"] = true
	mailbox.failing["t5"] = true
	fetcher := newTestFetcher(mailbox)

	result, err := fetcher.Search(context.Background(), "tok", "mixed", 6)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if !strings.Contains(result, "(showing 4)") {
		t.Errorf("header: %q", firstLine(result))
	}
	if strings.Contains(result, "Thread t2") || strings.Contains(result, "Thread t5") {
		t.Error("failed threads leaked into the result")
	}
	// Later batches still run after a failure.
	if !strings.Contains(result, "Thread t6") {
		t.Error("missing thread from final batch")
	}
}

func TestSearchTruncatesLongBodies(t *testing.T) {
	mailbox := makeMailbox(1, 5000)
	fetcher := newTestFetcher(mailbox)

	result, err := fetcher.Search(context.Background(), "tok", "long", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(result, "... [truncated]") {
		t.Error("missing truncation marker")
	}
}

func TestSearchSynopsis(t *testing.T) {
	mailbox := makeMailbox(3, 40)
	fetcher := newTestFetcher(mailbox)

	result, err := fetcher.Search(context.Background(), "tok", "weekly", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if !strings.Contains(result, "Participants: sender1@example.com, sender2@example.com, sender3@example.com") {
		t.Errorf("missing participants line:\n%s", result)
	}
	if !strings.Contains(result, "Dates: 2026-08-01T10:00:00Z to 2026-08-03T10:00:00Z") {
		t.Errorf("missing date range:\n%s", result)
	}
}

func TestSearchContextCanceledBetweenBatches(t *testing.T) {
	mailbox := makeMailbox(6, 40)
	fetcher := NewFetcher(mailbox, nil)
	fetcher.delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Let the first batch complete, then cancel during the delay.
		for mailbox.fetchedCount() < 3 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	if _, err := fetcher.Search(ctx, "tok", "q", 6); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFormatThreadFallsBackToSnippet(t *testing.T) {
	thread := &models.EmailThread{
		Subject: "No body",
		Messages: []models.EmailMessage{
			{From: "a@b.com", Date: "2026-08-01T10:00:00Z", Snippet: "just a snippet"},
		},
	}
	formatted := formatThread(thread)
	if !strings.Contains(formatted, "just a snippet") {
		t.Errorf("snippet missing from:\n%s", formatted)
	}
	if !strings.Contains(formatted, "From a@b.com (2026-08-01T10:00:00Z):") {
		t.Errorf("header missing from:\n%s", formatted)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("estimateTokens = %d, want 100", got)
	}
	if got := estimateTokens(""); got != 0 {
		t.Errorf("estimateTokens(\"\") = %d", got)
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(strings.TrimSpace(s), '\n'); idx >= 0 {
		return strings.TrimSpace(s)[idx+1:]
	}
	return s
}
