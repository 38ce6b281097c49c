package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/mailpilot/internal/agent"
	"github.com/haasonsaas/mailpilot/internal/snooze"
	"github.com/haasonsaas/mailpilot/internal/tools/mailsearch"
	"github.com/haasonsaas/mailpilot/internal/tools/websearch"
	"github.com/haasonsaas/mailpilot/pkg/models"
)

func call(name, input string) models.ToolCall {
	return models.ToolCall{ID: "tc-1", Name: name, Input: json.RawMessage(input)}
}

func TestExecuteWebSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results": [
			{"title": "Go", "url": "https://go.dev", "content": "The Go language"}
		]}`)
	}))
	defer server.Close()

	searcher := websearch.NewSearcher(websearch.Config{SearXNGURL: server.URL})
	executor := NewExecutor(searcher, nil, nil, nil, nil)

	outcome := executor.Execute(context.Background(), call(agent.ToolWebSearch, `{"query":"golang"}`), agent.ToolContext{})
	if !outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	if !strings.Contains(outcome.Result, `Search results for "golang"`) {
		t.Errorf("result = %q", outcome.Result)
	}
	if len(outcome.Sources) != 1 || outcome.Sources[0].URL != "https://go.dev" {
		t.Errorf("sources = %+v", outcome.Sources)
	}
}

func TestExecuteWebSearchMissingQuery(t *testing.T) {
	executor := NewExecutor(websearch.NewSearcher(websearch.Config{}), nil, nil, nil, nil)

	outcome := executor.Execute(context.Background(), call(agent.ToolWebSearch, `{}`), agent.ToolContext{})
	if outcome.Success {
		t.Error("expected failure for missing query")
	}
}

func TestExecuteBrowseURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("page body"))
	}))
	defer server.Close()

	fetcher := websearch.NewFetcher(websearch.WithExtractor(websearch.NewContentExtractorForTesting()))
	executor := NewExecutor(nil, fetcher, nil, nil, nil)

	outcome := executor.Execute(context.Background(), call(agent.ToolBrowseURL, fmt.Sprintf(`{"url":%q}`, server.URL)), agent.ToolContext{})
	if !outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	if !strings.Contains(outcome.Result, "page body") {
		t.Errorf("result = %q", outcome.Result)
	}
}

type emptyMailbox struct{}

func (emptyMailbox) ListThreads(ctx context.Context, accessToken, query string, maxResults int) ([]mailsearch.ThreadRef, int, error) {
	return nil, 0, nil
}

func (emptyMailbox) GetThread(ctx context.Context, accessToken, id string) (*models.EmailThread, error) {
	return nil, nil
}

func TestExecuteSearchMailbox(t *testing.T) {
	fetcher := mailsearch.NewFetcher(emptyMailbox{}, nil)
	executor := NewExecutor(nil, nil, fetcher, nil, nil)

	outcome := executor.Execute(context.Background(), call(agent.ToolSearchMailbox, `{"query":"invoices"}`), agent.ToolContext{})
	if outcome.Success {
		t.Error("expected failure without an access token")
	}
	if !strings.Contains(outcome.Result, "signed in") {
		t.Errorf("result = %q", outcome.Result)
	}

	outcome = executor.Execute(context.Background(), call(agent.ToolSearchMailbox, `{"query":"invoices"}`), agent.ToolContext{AccessToken: "tok"})
	if !outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Result != `No emails found matching "invoices".` {
		t.Errorf("result = %q", outcome.Result)
	}
}

func TestExecuteSnoozeAndUnsnooze(t *testing.T) {
	store := snooze.NewStore()
	executor := NewExecutor(nil, nil, nil, store, nil)

	outcome := executor.Execute(context.Background(), call(agent.ToolSnooze, `{"threadId":"t1","until":"tomorrow"}`), agent.ToolContext{})
	if !outcome.Success {
		t.Fatalf("snooze outcome = %+v", outcome)
	}
	if !strings.HasPrefix(outcome.Result, "Snoozed thread t1 until ") {
		t.Errorf("result = %q", outcome.Result)
	}
	if !store.IsSnoozed("t1") {
		t.Error("store should record the snooze")
	}

	outcome = executor.Execute(context.Background(), call(agent.ToolUnsnooze, `{"threadId":"t1"}`), agent.ToolContext{})
	if !outcome.Success {
		t.Fatalf("unsnooze outcome = %+v", outcome)
	}
	if outcome.Result != "Thread t1 returned to the inbox." {
		t.Errorf("result = %q", outcome.Result)
	}

	outcome = executor.Execute(context.Background(), call(agent.ToolUnsnooze, `{"threadId":"t1"}`), agent.ToolContext{})
	if outcome.Success {
		t.Error("unsnoozing twice should fail")
	}
	if outcome.Result != "Thread t1 is not snoozed." {
		t.Errorf("result = %q", outcome.Result)
	}
}

func TestExecuteSnoozeDefaultsToOpenThread(t *testing.T) {
	store := snooze.NewStore()
	executor := NewExecutor(nil, nil, nil, store, nil)

	// No threadId in the arguments; the open thread fills it in.
	outcome := executor.Execute(context.Background(), call(agent.ToolSnooze, `{"until":"tomorrow"}`), agent.ToolContext{ThreadID: "t-open"})
	if !outcome.Success {
		t.Fatalf("snooze outcome = %+v", outcome)
	}
	if !strings.HasPrefix(outcome.Result, "Snoozed thread t-open until ") {
		t.Errorf("result = %q", outcome.Result)
	}
	if !store.IsSnoozed("t-open") {
		t.Error("store should record the open thread's snooze")
	}

	outcome = executor.Execute(context.Background(), call(agent.ToolUnsnooze, `{}`), agent.ToolContext{ThreadID: "t-open"})
	if !outcome.Success {
		t.Fatalf("unsnooze outcome = %+v", outcome)
	}
	if store.IsSnoozed("t-open") {
		t.Error("open thread should be unsnoozed")
	}

	// With no open thread there is nothing to default to.
	outcome = executor.Execute(context.Background(), call(agent.ToolSnooze, `{"until":"tomorrow"}`), agent.ToolContext{})
	if outcome.Success {
		t.Error("snooze without any threadId should fail")
	}
	if !strings.Contains(outcome.Result, "no thread is open") {
		t.Errorf("result = %q", outcome.Result)
	}
}

func TestExecuteSnoozeBadArgs(t *testing.T) {
	executor := NewExecutor(nil, nil, nil, snooze.NewStore(), nil)

	tests := []string{
		`{}`,
		`{"threadId":"t1","until":"whenever"}`,
		`not json`,
	}
	for _, input := range tests {
		outcome := executor.Execute(context.Background(), call(agent.ToolSnooze, input), agent.ToolContext{})
		if outcome.Success {
			t.Errorf("input %q should fail", input)
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	executor := NewExecutor(nil, nil, nil, nil, nil)

	outcome := executor.Execute(context.Background(), call("send-email", `{}`), agent.ToolContext{})
	if outcome.Success {
		t.Error("client tools must not be executable on the server")
	}
	if !strings.Contains(outcome.Result, "not available on the server") {
		t.Errorf("result = %q", outcome.Result)
	}
}

func TestExecuteNotConfigured(t *testing.T) {
	executor := NewExecutor(nil, nil, nil, nil, nil)

	for _, name := range []string{agent.ToolWebSearch, agent.ToolBrowseURL, agent.ToolSnooze, agent.ToolUnsnooze} {
		outcome := executor.Execute(context.Background(), call(name, `{"query":"x","url":"https://example.com","threadId":"t1","until":"tomorrow"}`), agent.ToolContext{})
		if outcome.Success {
			t.Errorf("tool %s should report not configured", name)
		}
	}
}
