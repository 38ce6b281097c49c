// Package tools executes server-side tool calls on behalf of the agent
// loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/mailpilot/internal/agent"
	"github.com/haasonsaas/mailpilot/internal/snooze"
	"github.com/haasonsaas/mailpilot/internal/tools/mailsearch"
	"github.com/haasonsaas/mailpilot/internal/tools/websearch"
	"github.com/haasonsaas/mailpilot/pkg/models"
)

// Executor dispatches server-executable tool calls to their
// implementations. It implements agent.ServerToolExecutor: failures are
// reported in the outcome, never as errors or panics, because the model
// reacting to a failed tool beats aborting the whole run.
type Executor struct {
	searcher   *websearch.Searcher
	fetcher    *websearch.Fetcher
	mailSearch *mailsearch.Fetcher
	snoozes    *snooze.Store
	logger     *slog.Logger
}

// NewExecutor creates an executor over the given tool implementations.
// Any nil implementation makes its tool report "not configured" rather
// than failing construction.
func NewExecutor(searcher *websearch.Searcher, fetcher *websearch.Fetcher, mailSearch *mailsearch.Fetcher, snoozes *snooze.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		searcher:   searcher,
		fetcher:    fetcher,
		mailSearch: mailSearch,
		snoozes:    snoozes,
		logger:     logger,
	}
}

// Execute runs one server tool call and returns its outcome.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, tctx agent.ToolContext) (outcome agent.ToolOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked",
				"tool", call.Name,
				"panic", r,
				"stack", string(debug.Stack()))
			outcome = failure(fmt.Sprintf("The %s tool failed unexpectedly.", call.Name))
		}
	}()

	switch call.Name {
	case agent.ToolWebSearch:
		return e.webSearch(ctx, call.Input)
	case agent.ToolBrowseURL:
		return e.browseURL(ctx, call.Input)
	case agent.ToolSearchMailbox:
		return e.searchMailbox(ctx, call.Input, tctx.AccessToken)
	case agent.ToolSnooze:
		return e.snooze(call.Input, tctx.ThreadID)
	case agent.ToolUnsnooze:
		return e.unsnooze(call.Input, tctx.ThreadID)
	default:
		// The loop only routes server-scoped calls here, so this is a
		// classification bug, not model misbehavior.
		e.logger.Warn("unhandled server tool", "tool", call.Name)
		return failure(fmt.Sprintf("Tool %q is not available on the server.", call.Name))
	}
}

func (e *Executor) webSearch(ctx context.Context, input json.RawMessage) agent.ToolOutcome {
	if e.searcher == nil {
		return failure("Web search is not configured.")
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(input, &args); err != nil || args.Query == "" {
		return failure("Web search requires a query.")
	}

	response, err := e.searcher.Search(ctx, args.Query)
	if err != nil {
		e.logger.Warn("web search failed", "query", args.Query, "error", err)
		return failure(fmt.Sprintf("Web search failed: %v", err))
	}

	sources := make([]agent.SearchSource, 0, len(response.Results))
	for _, r := range response.Results {
		sources = append(sources, agent.SearchSource{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Snippet,
		})
	}

	return agent.ToolOutcome{
		Result:  websearch.FormatResults(response),
		Success: true,
		Sources: sources,
	}
}

func (e *Executor) browseURL(ctx context.Context, input json.RawMessage) agent.ToolOutcome {
	if e.fetcher == nil {
		return failure("URL browsing is not configured.")
	}

	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(input, &args); err != nil || args.URL == "" {
		return failure("Browsing requires a url.")
	}

	content, err := e.fetcher.Fetch(ctx, args.URL)
	if err != nil {
		e.logger.Warn("browse failed", "url", args.URL, "error", err)
		return failure(fmt.Sprintf("Could not fetch %s: %v", args.URL, err))
	}

	return agent.ToolOutcome{Result: content, Success: true}
}

func (e *Executor) searchMailbox(ctx context.Context, input json.RawMessage, accessToken string) agent.ToolOutcome {
	if e.mailSearch == nil {
		return failure("Mailbox search is not configured.")
	}
	if accessToken == "" {
		return failure("Mailbox search requires the user to be signed in.")
	}

	var args struct {
		Query      string `json:"query"`
		MaxResults int    `json:"maxResults"`
	}
	if err := json.Unmarshal(input, &args); err != nil || args.Query == "" {
		return failure("Mailbox search requires a query.")
	}

	result, err := e.mailSearch.Search(ctx, accessToken, args.Query, args.MaxResults)
	if err != nil {
		e.logger.Warn("mailbox search failed", "query", args.Query, "error", err)
		return failure(fmt.Sprintf("Mailbox search failed: %v", err))
	}

	return agent.ToolOutcome{Result: result, Success: true}
}

func (e *Executor) snooze(input json.RawMessage, openThreadID string) agent.ToolOutcome {
	if e.snoozes == nil {
		return failure("Snoozing is not configured.")
	}

	var args struct {
		ThreadID string `json:"threadId"`
		Until    string `json:"until"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure("Snoozing requires an until time.")
	}
	// The schema leaves threadId optional; it defaults to the thread open
	// in the client.
	if args.ThreadID == "" {
		args.ThreadID = openThreadID
	}
	if args.ThreadID == "" {
		return failure("Snoozing requires a threadId when no thread is open.")
	}

	wakeAt, err := e.snoozes.Snooze(args.ThreadID, args.Until)
	if err != nil {
		return failure(fmt.Sprintf("Could not snooze: %v", err))
	}

	return agent.ToolOutcome{
		Result:  fmt.Sprintf("Snoozed thread %s until %s.", args.ThreadID, wakeAt.Format(time.RFC3339)),
		Success: true,
	}
}

func (e *Executor) unsnooze(input json.RawMessage, openThreadID string) agent.ToolOutcome {
	if e.snoozes == nil {
		return failure("Snoozing is not configured.")
	}

	var args struct {
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return failure("Unsnoozing requires a threadId.")
	}
	if args.ThreadID == "" {
		args.ThreadID = openThreadID
	}
	if args.ThreadID == "" {
		return failure("Unsnoozing requires a threadId when no thread is open.")
	}

	if !e.snoozes.Unsnooze(args.ThreadID) {
		return failure(fmt.Sprintf("Thread %s is not snoozed.", args.ThreadID))
	}

	return agent.ToolOutcome{
		Result:  fmt.Sprintf("Thread %s returned to the inbox.", args.ThreadID),
		Success: true,
	}
}

func failure(message string) agent.ToolOutcome {
	return agent.ToolOutcome{Result: message, Success: false}
}
