// Package models contains the wire-level shapes shared between the
// orchestrator, the tool layer, and API clients.
package models

import "encoding/json"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is a single conversation turn as sent by the client.
// The history is append-only within one request; the orchestrator works on
// its own copy and never mutates the client's list.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolCall represents a model's request to execute a named tool.
// ID is opaque and provider-assigned; when a provider omits it the
// orchestrator synthesizes one so results can be paired later.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"arguments"`
}

// EmailMessage is one message within an email thread, reduced to the
// fields the orchestrator reads.
type EmailMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet,omitempty"`
	Body    string `json:"body,omitempty"`
}

// EmailThread is the currently open conversation the client may attach to
// a request for context.
type EmailThread struct {
	ID       string         `json:"id"`
	Subject  string         `json:"subject"`
	Messages []EmailMessage `json:"messages"`
}

// Draft is an in-progress outgoing email. The orchestrator only reads it to
// give the model continuity context; construction and sending belong to the
// client.
type Draft struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	// InReplyTo holds the thread ID being replied to, if any.
	InReplyTo string `json:"inReplyTo,omitempty"`
}

// DraftBuilder constructs a Draft from a prepare-draft tool call. It is a
// pure function collaborator: recipient computation and quoting happen on
// the client, so server-side implementations exist only for tests.
type DraftBuilder interface {
	BuildDraftFromToolCall(args json.RawMessage, thread *EmailThread) (*Draft, error)
}
