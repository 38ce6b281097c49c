package agent

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolScope classifies where a tool may be executed.
type ToolScope int

const (
	// ScopeUnknown marks tool names absent from the catalog. Unknown
	// calls are logged and dropped, never fatal to the loop.
	ScopeUnknown ToolScope = iota
	// ScopeServer tools run on the server without user confirmation.
	ScopeServer
	// ScopeClient tools have user-visible side effects and are deferred
	// to the client for confirmation and execution.
	ScopeClient
)

func (s ToolScope) String() string {
	switch s {
	case ScopeServer:
		return "server"
	case ScopeClient:
		return "client"
	default:
		return "unknown"
	}
}

// Server-executable tool names.
const (
	ToolWebSearch     = "web-search"
	ToolBrowseURL     = "browse-url"
	ToolSearchMailbox = "search-mailbox"
	ToolSnooze        = "snooze"
	ToolUnsnooze      = "unsnooze"
)

// Client-deferred tool names.
const (
	ToolPrepareDraft  = "prepare-draft"
	ToolSendEmail     = "send-email"
	ToolArchive       = "archive"
	ToolMoveToInbox   = "move-to-inbox"
	ToolStar          = "star"
	ToolUnstar        = "unstar"
	ToolNavigateNext  = "navigate-next"
	ToolNavigateInbox = "navigate-inbox"
)

type catalogEntry struct {
	scope       ToolScope
	description string
	schema      string
}

// catalog is the complete, fixed set of tools the model may be offered.
// Every name the model can emit appears in exactly one scope.
var catalog = map[string]catalogEntry{
	ToolWebSearch: {
		scope:       ScopeServer,
		description: "Search the web for current information. Returns a numbered list of sources with titles, URLs, and snippets.",
		schema: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"}
			},
			"required": ["query"]
		}`,
	},
	ToolBrowseURL: {
		scope:       ScopeServer,
		description: "Fetch a web page and return its readable text content.",
		schema: `{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The http(s) URL to fetch"}
			},
			"required": ["url"]
		}`,
	},
	ToolSearchMailbox: {
		scope:       ScopeServer,
		description: "Search the user's mailbox. Returns matching email threads with their full content so you can answer questions about them.",
		schema: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Free-text mailbox search query, e.g. 'from:alice invoices'"},
				"maxResults": {"type": "integer", "description": "Desired number of threads (capped at 10)", "minimum": 1}
			},
			"required": ["query"]
		}`,
	},
	ToolSnooze: {
		scope:       ScopeServer,
		description: "Snooze the current email thread so it returns to the inbox later.",
		schema: `{
			"type": "object",
			"properties": {
				"threadId": {"type": "string", "description": "Thread to snooze. Defaults to the open thread."},
				"until": {"type": "string", "description": "When to bring it back: 'later-today', 'tomorrow', 'this-weekend', 'next-week', or an RFC 3339 timestamp"}
			},
			"required": ["until"]
		}`,
	},
	ToolUnsnooze: {
		scope:       ScopeServer,
		description: "Cancel a snooze and move the thread back to the inbox now.",
		schema: `{
			"type": "object",
			"properties": {
				"threadId": {"type": "string", "description": "Thread to unsnooze. Defaults to the open thread."}
			}
		}`,
	},
	ToolPrepareDraft: {
		scope:       ScopeClient,
		description: "Prepare an email draft for the user to review. Use for new emails, replies, and forwards.",
		schema: `{
			"type": "object",
			"properties": {
				"to": {"type": "array", "items": {"type": "string"}, "description": "Recipient addresses"},
				"subject": {"type": "string"},
				"body": {"type": "string", "description": "Plain-text body of the draft"},
				"replyAll": {"type": "boolean", "description": "Reply to all participants of the open thread"}
			},
			"required": ["body"]
		}`,
	},
	ToolSendEmail: {
		scope:       ScopeClient,
		description: "Send the prepared draft after the user confirms.",
		schema: `{
			"type": "object",
			"properties": {}
		}`,
	},
	ToolArchive: {
		scope:       ScopeClient,
		description: "Archive the current email thread.",
		schema: `{
			"type": "object",
			"properties": {
				"threadId": {"type": "string", "description": "Thread to archive. Defaults to the open thread."}
			}
		}`,
	},
	ToolMoveToInbox: {
		scope:       ScopeClient,
		description: "Move an archived thread back to the inbox.",
		schema: `{
			"type": "object",
			"properties": {
				"threadId": {"type": "string"}
			}
		}`,
	},
	ToolStar: {
		scope:       ScopeClient,
		description: "Star the current email thread.",
		schema: `{
			"type": "object",
			"properties": {
				"threadId": {"type": "string"}
			}
		}`,
	},
	ToolUnstar: {
		scope:       ScopeClient,
		description: "Remove the star from the current email thread.",
		schema: `{
			"type": "object",
			"properties": {
				"threadId": {"type": "string"}
			}
		}`,
	},
	ToolNavigateNext: {
		scope:       ScopeClient,
		description: "Open the next email in the current folder.",
		schema: `{
			"type": "object",
			"properties": {}
		}`,
	},
	ToolNavigateInbox: {
		scope:       ScopeClient,
		description: "Navigate back to the inbox list view.",
		schema: `{
			"type": "object",
			"properties": {}
		}`,
	},
}

// Registry is the immutable tool catalog handed to the loop controller.
// Constructed once at process start; Classify and Describe are pure
// lookups with no hidden state.
type Registry struct {
	specs  []ToolSpec
	scopes map[string]ToolScope
}

// NewRegistry builds the registry and compiles every tool schema, so a
// malformed schema fails at startup rather than mid-conversation.
func NewRegistry() (*Registry, error) {
	specs := make([]ToolSpec, 0, len(catalog))
	scopes := make(map[string]ToolScope, len(catalog))

	for _, name := range catalogOrder() {
		entry := catalog[name]
		if _, err := jsonschema.CompileString(name, entry.schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", name, err)
		}
		compact, err := compactJSON(entry.schema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		specs = append(specs, ToolSpec{
			Name:        name,
			Description: entry.description,
			Schema:      compact,
		})
		scopes[name] = entry.scope
	}

	return &Registry{specs: specs, scopes: scopes}, nil
}

// Classify reports where the named tool may run. Unrecognized names map to
// ScopeUnknown.
func (r *Registry) Classify(name string) ToolScope {
	return r.scopes[name]
}

// Describe returns the static tool descriptions supplied to the model on
// every provider call.
func (r *Registry) Describe() []ToolSpec {
	return r.specs
}

// catalogOrder fixes the order tools are presented to the model: server
// tools first, then client tools, stable across processes.
func catalogOrder() []string {
	return []string{
		ToolWebSearch,
		ToolBrowseURL,
		ToolSearchMailbox,
		ToolSnooze,
		ToolUnsnooze,
		ToolPrepareDraft,
		ToolSendEmail,
		ToolArchive,
		ToolMoveToInbox,
		ToolStar,
		ToolUnstar,
		ToolNavigateNext,
		ToolNavigateInbox,
	}
}

func compactJSON(s string) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
