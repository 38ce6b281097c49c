// Package gmail is a minimal client for the Gmail threads REST API,
// covering just the lookups the search-mailbox tool needs.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/mailpilot/internal/tools/mailsearch"
	"github.com/haasonsaas/mailpilot/pkg/models"
)

const (
	defaultBaseURL          = "https://gmail.googleapis.com/gmail/v1"
	defaultTimeout          = 15 * time.Second
	defaultMaxResponseBytes = int64(4 << 20) // 4MB
)

// Config configures the Gmail client.
type Config struct {
	// BaseURL overrides the Gmail API endpoint. Used by tests.
	BaseURL string

	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// Client wraps the Gmail threads API. The user's OAuth access token is
// passed per call, not stored: one client serves every request.
//
// Implements mailsearch.MailboxProvider.
type Client struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
}

// NewClient creates a Gmail API client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	return &Client{
		baseURL:  baseURL,
		client:   client,
		maxBytes: maxBytes,
	}
}

// ListThreads queries threads matching query (GET /users/me/threads).
func (c *Client) ListThreads(ctx context.Context, accessToken, query string, maxResults int) ([]mailsearch.ThreadRef, int, error) {
	values := url.Values{}
	values.Set("q", query)
	if maxResults > 0 {
		values.Set("maxResults", strconv.Itoa(maxResults))
	}

	data, err := c.doJSON(ctx, accessToken, c.baseURL+"/users/me/threads?"+values.Encode())
	if err != nil {
		return nil, 0, err
	}

	var payload struct {
		Threads []struct {
			ID string `json:"id"`
		} `json:"threads"`
		ResultSizeEstimate int `json:"resultSizeEstimate"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, 0, fmt.Errorf("gmail: parse thread list: %w", err)
	}

	refs := make([]mailsearch.ThreadRef, 0, len(payload.Threads))
	for _, t := range payload.Threads {
		refs = append(refs, mailsearch.ThreadRef{ID: t.ID})
	}
	return refs, payload.ResultSizeEstimate, nil
}

// GetThread fetches full detail for one thread
// (GET /users/me/threads/{id}?format=full).
func (c *Client) GetThread(ctx context.Context, accessToken, id string) (*models.EmailThread, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("gmail: thread id is required")
	}

	data, err := c.doJSON(ctx, accessToken, c.baseURL+"/users/me/threads/"+url.PathEscape(id)+"?format=full")
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID       string         `json:"id"`
		Messages []gmailMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("gmail: parse thread: %w", err)
	}

	thread := &models.EmailThread{ID: payload.ID}
	for _, msg := range payload.Messages {
		email := models.EmailMessage{
			ID:      msg.ID,
			From:    msg.header("From"),
			To:      msg.header("To"),
			Subject: msg.header("Subject"),
			Date:    normalizeDate(msg.header("Date")),
			Snippet: msg.Snippet,
			Body:    msg.Payload.textBody(),
		}
		thread.Messages = append(thread.Messages, email)
		if thread.Subject == "" {
			thread.Subject = email.Subject
		}
	}

	return thread, nil
}

func (c *Client) doJSON(ctx context.Context, accessToken, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gmail: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gmail: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("gmail: read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("gmail: response too large")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("gmail: status %d: %s", resp.StatusCode, msg)
	}

	return json.RawMessage(data), nil
}

type gmailMessage struct {
	ID      string      `json:"id"`
	Snippet string      `json:"snippet"`
	Payload messagePart `json:"payload"`
}

func (m *gmailMessage) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

type messagePart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

// textBody walks the MIME tree and returns the first text/plain part,
// falling back to text/html when no plain part exists.
func (p *messagePart) textBody() string {
	if body := p.findPart("text/plain"); body != "" {
		return body
	}
	return p.findPart("text/html")
}

func (p *messagePart) findPart(mimeType string) string {
	if strings.HasPrefix(p.MimeType, mimeType) && p.Body.Data != "" {
		if decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(p.Body.Data); err == nil {
			return string(decoded)
		}
	}
	for i := range p.Parts {
		if body := p.Parts[i].findPart(mimeType); body != "" {
			return body
		}
	}
	return ""
}

// normalizeDate converts an RFC 2822 Date header to RFC 3339 so dates
// compare lexicographically downstream. Unparseable values pass through
// unchanged.
func normalizeDate(value string) string {
	if value == "" {
		return ""
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 -0700", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return value
}
