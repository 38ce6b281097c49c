package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/mailpilot/pkg/models"
)

// ModelProvider defines the interface for LLM backends.
//
// Implementations handle the specifics of one upstream wire protocol
// (Anthropic or OpenAI) while presenting a unified vocabulary to the loop
// controller. Nothing outside a provider may branch on provider identity.
//
// Thread safety: implementations must be safe for concurrent use. Multiple
// requests may call Stream or Generate simultaneously.
type ModelProvider interface {
	// Stream sends a completion request and returns a lazy sequence of
	// chunks. The channel is closed after a chunk with Done set (or an
	// Error chunk) has been delivered.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Generate sends a completion request and blocks until the full
	// response is available.
	Generate(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// Name returns the provider identifier ("anthropic", "openai").
	Name() string
}

// CompletionRequest contains all parameters for one model call.
type CompletionRequest struct {
	// Model is the upstream model identifier. If empty, the provider's
	// default model is used.
	Model string `json:"model"`

	// System sets the assistant's behavior. Handled separately from
	// messages by both upstream APIs.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []models.ChatMessage `json:"messages"`

	// Tools describes the tools the model may request. Static data from
	// the registry, identical on every call.
	Tools []ToolSpec `json:"tools,omitempty"`

	// MaxTokens bounds the response length. 0 means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// ToolSpec is the static description of one tool as presented to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Completion is the synchronous result of one model call.
type Completion struct {
	Content    string            `json:"content"`
	ToolCalls  []models.ToolCall `json:"tool_calls,omitempty"`
	StopReason string            `json:"stop_reason,omitempty"`
}

// ToolCallDelta is a fragment of an in-flight tool call's argument JSON.
// Fragments accumulate in arrival order; the concatenation is only
// guaranteed to be valid JSON once the tool call completes.
type ToolCallDelta struct {
	ToolCallID string `json:"tool_call_id"`
	Fragment   string `json:"fragment"`
}

// CompletionChunk is a single event in a streaming response. Exactly one of
// the payload fields is populated per chunk:
//
//   - Text: partial response text, emitted as it arrives
//   - ToolStart: a tool call opened; ID and Name are known, arguments are not
//   - ArgsDelta: a fragment of the open tool call's argument JSON
//   - ToolCall: a complete tool call with authoritative arguments
//   - Done: the stream finished; StopReason may be set
//   - Error: the stream failed; no further chunks follow
type CompletionChunk struct {
	Text       string           `json:"text,omitempty"`
	ToolStart  *models.ToolCall `json:"tool_start,omitempty"`
	ArgsDelta  *ToolCallDelta   `json:"args_delta,omitempty"`
	ToolCall   *models.ToolCall `json:"tool_call,omitempty"`
	Done       bool             `json:"done,omitempty"`
	StopReason string           `json:"stop_reason,omitempty"`
	Error      error            `json:"-"`
}
