package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/haasonsaas/mailpilot/internal/agent"
	"github.com/haasonsaas/mailpilot/internal/observability"
)

// EventWriter serializes stream events as SSE frames on one HTTP response.
//
// It owns the response for its lifetime: headers are written on
// construction, every event becomes one `data: <json>\n\n` frame followed
// by a flush, and Close is safe to call from any exit path exactly once.
// Write failures after a client disconnect are logged and swallowed; the
// loop keeps draining so its goroutine always reaches its own cleanup.
type EventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	closed bool
	failed bool
}

// NewEventWriter prepares w for event streaming and writes the SSE
// headers. Returns an error if the ResponseWriter cannot flush, since
// buffered SSE defeats the point. metrics may be nil.
func NewEventWriter(w http.ResponseWriter, logger *slog.Logger, metrics *observability.Metrics) (*EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if logger == nil {
		logger = slog.Default()
	}

	return &EventWriter{w: w, flusher: flusher, logger: logger, metrics: metrics}, nil
}

// Send writes one event frame. After the first write failure or Close,
// subsequent sends are silently dropped.
func (ew *EventWriter) Send(event *agent.StreamEvent) {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if ew.closed || ew.failed {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		ew.logger.Error("failed to encode stream event", "type", event.Type, "error", err)
		return
	}

	if _, err := fmt.Fprintf(ew.w, "data: %s\n\n", payload); err != nil {
		// Usually a disconnected client. Stop writing but let the
		// caller's loop drain to completion.
		ew.logger.Debug("stream write failed, client likely disconnected", "error", err)
		ew.failed = true
		return
	}
	ew.flusher.Flush()

	if ew.metrics != nil {
		ew.metrics.StreamEvents.WithLabelValues(string(event.Type)).Inc()
	}
}

// Close marks the writer finished. Idempotent.
func (ew *EventWriter) Close() {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	ew.closed = true
}
