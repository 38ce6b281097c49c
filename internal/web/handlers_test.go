package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/mailpilot/internal/agent"
	"github.com/haasonsaas/mailpilot/pkg/models"
)

// stubProvider answers every stream with a fixed text then done, and
// records the requests it saw.
type stubProvider struct {
	text     string
	requests []*agent.CompletionRequest
}

func (p *stubProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.requests = append(p.requests, req)

	chunks := make(chan *agent.CompletionChunk, 2)
	chunks <- &agent.CompletionChunk{Text: p.text}
	chunks <- &agent.CompletionChunk{Done: true, StopReason: "end_turn"}
	close(chunks)
	return chunks, nil
}

func (p *stubProvider) Generate(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	p.requests = append(p.requests, req)
	return &agent.Completion{Content: p.text}, nil
}

func (p *stubProvider) Name() string { return "stub" }

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, call models.ToolCall, tctx agent.ToolContext) agent.ToolOutcome {
	return agent.ToolOutcome{Result: "ok", Success: true}
}

// recordingExecutor captures the context each server tool call ran with.
type recordingExecutor struct {
	contexts []agent.ToolContext
}

func (e *recordingExecutor) Execute(ctx context.Context, call models.ToolCall, tctx agent.ToolContext) agent.ToolOutcome {
	e.contexts = append(e.contexts, tctx)
	return agent.ToolOutcome{Result: "ok", Success: true}
}

// toolOnceProvider requests one server tool on its first call, then
// answers with plain text.
type toolOnceProvider struct {
	call   models.ToolCall
	called bool
}

func (p *toolOnceProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk, 2)
	if !p.called {
		p.called = true
		chunks <- &agent.CompletionChunk{ToolCall: &p.call}
	} else {
		chunks <- &agent.CompletionChunk{Text: "All set."}
	}
	chunks <- &agent.CompletionChunk{Done: true, StopReason: "end_turn"}
	close(chunks)
	return chunks, nil
}

func (p *toolOnceProvider) Generate(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	if !p.called {
		p.called = true
		return &agent.Completion{ToolCalls: []models.ToolCall{p.call}}, nil
	}
	return &agent.Completion{Content: "All set."}, nil
}

func (p *toolOnceProvider) Name() string { return "stub" }

func newTestServer(t *testing.T, provider agent.ModelProvider) *Server {
	t.Helper()
	return newTestServerWithExecutor(t, provider, noopExecutor{})
}

func newTestServerWithExecutor(t *testing.T, provider agent.ModelProvider, executor agent.ServerToolExecutor) *Server {
	t.Helper()

	registry, err := agent.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	controller := agent.NewController(provider, registry, executor, nil)

	server, err := NewServer(ServerConfig{DefaultProvider: "anthropic"}, map[string]*agent.Controller{
		"anthropic": controller,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return server
}

func postChat(t *testing.T, server *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	server.handleChat(recorder, req)
	return recorder
}

// parseFrames splits an SSE body into decoded events.
func parseFrames(t *testing.T, body string) []agent.StreamEvent {
	t.Helper()
	var events []agent.StreamEvent
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		payload, ok := strings.CutPrefix(frame, "data: ")
		if !ok {
			t.Fatalf("malformed frame: %q", frame)
		}
		var event agent.StreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			t.Fatalf("frame does not parse: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func TestHandleChatStreamsEvents(t *testing.T) {
	provider := &stubProvider{text: "Hello!"}
	server := newTestServer(t, provider)

	recorder := postChat(t, server, `{
		"messages": [{"role": "user", "content": "hi"}],
		"folder": "inbox",
		"accessToken": "tok"
	}`)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content-type = %q", got)
	}

	events := parseFrames(t, recorder.Body.String())
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.Type != agent.EventDone || last.Reason != agent.ReasonNoToolCalls {
		t.Errorf("terminal event = %+v", last)
	}

	var text strings.Builder
	for _, e := range events {
		if e.Type == agent.EventText {
			text.WriteString(e.Content)
		}
	}
	if text.String() != "Hello!" {
		t.Errorf("text = %q", text.String())
	}

	// The request context must reach the provider.
	if len(provider.requests) != 1 {
		t.Fatalf("provider saw %d requests", len(provider.requests))
	}
	req := provider.requests[0]
	if !strings.Contains(req.System, "inbox folder") {
		t.Errorf("system prompt missing folder context: %q", req.System)
	}
	if len(req.Tools) == 0 {
		t.Error("tools missing from provider request")
	}
}

func TestHandleChatCarriesOpenThreadToTools(t *testing.T) {
	executor := &recordingExecutor{}
	provider := &toolOnceProvider{
		call: models.ToolCall{ID: "tc-1", Name: agent.ToolSnooze, Input: json.RawMessage(`{"until":"tomorrow"}`)},
	}
	server := newTestServerWithExecutor(t, provider, executor)

	recorder := postChat(t, server, `{
		"messages": [{"role": "user", "content": "snooze this"}],
		"thread": {"id": "t-42", "subject": "Lunch"},
		"accessToken": "tok"
	}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	if len(executor.contexts) != 1 {
		t.Fatalf("executor ran %d calls, want 1", len(executor.contexts))
	}
	if tctx := executor.contexts[0]; tctx.ThreadID != "t-42" || tctx.AccessToken != "tok" {
		t.Errorf("tool context = %+v", tctx)
	}
}

func TestHandleChatDraftContinuity(t *testing.T) {
	provider := &stubProvider{text: "ok"}
	server := newTestServer(t, provider)

	recorder := postChat(t, server, `{
		"messages": [{"role": "user", "content": "make it shorter"}],
		"currentDraft": {"to": ["ann@example.com"], "subject": "Plans", "body": "Long draft body"}
	}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	turns := provider.requests[0].Messages
	if len(turns) != 3 {
		t.Fatalf("expected draft turn pair + user turn, got %d turns", len(turns))
	}
	if turns[0].Role != models.RoleUser || !strings.Contains(turns[0].Content, "Long draft body") {
		t.Errorf("draft turn = %+v", turns[0])
	}
	if turns[1].Role != models.RoleAssistant {
		t.Errorf("continuity turn = %+v", turns[1])
	}
	if turns[2].Content != "make it shorter" {
		t.Errorf("user turn = %+v", turns[2])
	}
}

func TestHandleChatFiltersEmptyMessages(t *testing.T) {
	provider := &stubProvider{text: "ok"}
	server := newTestServer(t, provider)

	recorder := postChat(t, server, `{
		"messages": [
			{"role": "user", "content": ""},
			{"role": "user", "content": "real question"}
		]
	}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	turns := provider.requests[0].Messages
	if len(turns) != 1 || turns[0].Content != "real question" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestHandleChatRejectsBadRequests(t *testing.T) {
	server := newTestServer(t, &stubProvider{text: "ok"})

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{not json`},
		{"missing messages", `{"provider": "anthropic"}`},
		{"messages not a list", `{"messages": "hello"}`},
		{"unknown provider", `{"messages": [{"role":"user","content":"hi"}], "provider": "cohere"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := postChat(t, server, tt.body)
			if recorder.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", recorder.Code)
			}
			var payload map[string]string
			if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
				t.Fatalf("error body does not parse: %v", err)
			}
			if payload["error"] == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestHandleChatRejectsNonPost(t *testing.T) {
	server := newTestServer(t, &stubProvider{text: "ok"})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	server.handleChat(recorder, req)

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", recorder.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t, &stubProvider{text: "ok"})

	recorder := httptest.NewRecorder()
	server.handleHealth(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %q", recorder.Body.String())
	}
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(ServerConfig{DefaultProvider: "anthropic"}, nil, nil, nil); err == nil {
		t.Error("expected error with no controllers")
	}

	registry, err := agent.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	controllers := map[string]*agent.Controller{
		"openai": agent.NewController(&stubProvider{}, registry, noopExecutor{}, nil),
	}
	if _, err := NewServer(ServerConfig{DefaultProvider: "anthropic"}, controllers, nil, nil); err == nil {
		t.Error("expected error when default provider has no controller")
	}
}
