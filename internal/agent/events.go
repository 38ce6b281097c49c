package agent

import "github.com/haasonsaas/mailpilot/pkg/models"

// EventType identifies a stream event on the client-facing SSE channel.
type EventType string

const (
	// EventStatus is a short human-readable progress note ("Thinking...").
	EventStatus EventType = "status"
	// EventText carries streamed assistant text.
	EventText EventType = "text"
	// EventToolStart announces that a tool call opened.
	EventToolStart EventType = "tool_start"
	// EventToolArgs carries a best-effort preview of the open tool call's
	// arguments, recovered from partial JSON. Preview only, never
	// authoritative.
	EventToolArgs EventType = "tool_args"
	// EventToolDone reports the outcome of a server-executed tool.
	EventToolDone EventType = "tool_done"
	// EventSearchResult carries structured web search sources for the UI.
	EventSearchResult EventType = "search_result"
	// EventDone is terminal and unique per request.
	EventDone EventType = "done"
	// EventError is terminal and reports an unrecoverable failure.
	EventError EventType = "error"
)

// SearchSource is one web search hit surfaced to the client.
type SearchSource struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// StreamEvent is the unit written to the SSE response. Within one
// iteration, tool_start for a call ID precedes any tool_args for that ID,
// which precede its tool_done. FullContent on text events is a pure
// accumulator for the current turn and never shrinks mid-turn.
type StreamEvent struct {
	Type EventType `json:"type"`

	// Message is set on status and error events.
	Message string `json:"message,omitempty"`

	// Content is the text delta; FullContent the turn's accumulated text.
	Content     string `json:"content,omitempty"`
	FullContent string `json:"fullContent,omitempty"`

	// Tool fields, set on tool_start / tool_args / tool_done.
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result,omitempty"`
	Success    *bool          `json:"success,omitempty"`

	// Sources is set on search_result events.
	Sources []SearchSource `json:"sources,omitempty"`

	// Terminal fields, set on the done event. ClientToolCalls is always
	// present on done, even when empty, so clients need no nil checks.
	Iterations      int                `json:"iterations,omitempty"`
	Reason          string             `json:"reason,omitempty"`
	ClientToolCalls *[]models.ToolCall `json:"clientToolCalls,omitempty"`
}

func statusEvent(message string) *StreamEvent {
	return &StreamEvent{Type: EventStatus, Message: message}
}

func textEvent(delta, full string) *StreamEvent {
	return &StreamEvent{Type: EventText, Content: delta, FullContent: full}
}

func toolStartEvent(tc models.ToolCall) *StreamEvent {
	return &StreamEvent{Type: EventToolStart, ToolCallID: tc.ID, ToolName: tc.Name}
}

func toolArgsEvent(id, name string, args map[string]any) *StreamEvent {
	return &StreamEvent{Type: EventToolArgs, ToolCallID: id, ToolName: name, Args: args}
}

func toolDoneEvent(tc models.ToolCall, result string, success bool) *StreamEvent {
	return &StreamEvent{
		Type:       EventToolDone,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Result:     result,
		Success:    &success,
	}
}

func searchResultEvent(id string, sources []SearchSource) *StreamEvent {
	return &StreamEvent{Type: EventSearchResult, ToolCallID: id, Sources: sources}
}

func doneEvent(iterations int, reason string, deferred []models.ToolCall) *StreamEvent {
	if deferred == nil {
		deferred = []models.ToolCall{}
	}
	return &StreamEvent{
		Type:            EventDone,
		Iterations:      iterations,
		Reason:          reason,
		ClientToolCalls: &deferred,
	}
}

func errorEvent(message string) *StreamEvent {
	return &StreamEvent{Type: EventError, Message: message}
}
