package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/mailpilot/internal/observability"
	"github.com/haasonsaas/mailpilot/pkg/models"
)

// Termination reasons reported on the done event.
const (
	ReasonNoToolCalls   = "no_tool_calls"
	ReasonClientHandoff = "client_handoff"
	ReasonMaxIterations = "max_iterations"
)

// eventBufferSize is the stream event channel buffer. Large enough that a
// full batch of tool events never blocks the loop on a slow writer.
const eventBufferSize = 64

// ToolOutcome is the result of one server tool execution. Result is the
// observation text fed back to the model; a failed tool produces a failure
// description with Success=false rather than an error, because the model
// reacting to "this tool failed" beats aborting the conversation.
type ToolOutcome struct {
	Result  string
	Success bool

	// Sources carries structured web search hits for the UI, when the
	// tool produced any.
	Sources []SearchSource
}

// ToolContext carries the request-scoped values server tools may need:
// the mailbox credential and the thread open in the client, so tools
// whose threadId defaults to "the open thread" can resolve it.
type ToolContext struct {
	AccessToken string
	ThreadID    string
}

// ServerToolExecutor runs server-executable tools. Implementations must
// never return an error to the loop; failures are encoded in the outcome.
type ServerToolExecutor interface {
	Execute(ctx context.Context, call models.ToolCall, tctx ToolContext) ToolOutcome
}

// LoopConfig configures the agent loop.
type LoopConfig struct {
	// MaxIterations caps model round trips per run. Default: 10.
	MaxIterations int

	// MaxTokens is passed through to the provider on every call.
	MaxTokens int

	// FillerText stands in for the assistant turn when the model returned
	// tool calls with no text.
	FillerText string

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations: 10,
		MaxTokens:     4096,
		FillerText:    "Working on it.",
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	defaults := DefaultLoopConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.FillerText == "" {
		cfg.FillerText = defaults.FillerText
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &cfg
}

// RunRequest carries everything the controller needs for one run. The
// controller copies Turns before mutating; the caller's slice is never
// touched.
type RunRequest struct {
	System      string
	Model       string
	Turns       []models.ChatMessage
	AccessToken string

	// ThreadID is the thread currently open in the client, if any. Server
	// tools use it when the model omits an explicit threadId.
	ThreadID string
}

// RunState is the request-scoped loop state. One instance per run, passed
// explicitly so the state machine stays auditable: no closures over outer
// variables, no cross-request sharing.
type RunState struct {
	// Iteration counts completed model round trips.
	Iteration int

	// Turns is the working copy of the conversation.
	Turns []models.ChatMessage

	// Deferred accumulates client-deferred tool calls across all
	// iterations for the terminal done event.
	Deferred []models.ToolCall

	// FullText accumulates the current turn's streamed text. Reset at
	// the start of each turn, never mid-turn.
	FullText string

	// announced tracks which tool call IDs already got a tool_start
	// event this turn.
	announced map[string]bool
}

// Controller drives the think → call tools → observe → think cycle.
//
// State machine: AWAITING_MODEL → DISPATCHING_TOOLS → AWAITING_MODEL → …
// → TERMINATED. Termination paths: the model stops requesting tools, the
// model requests only client-deferred tools, or the iteration ceiling is
// reached.
type Controller struct {
	provider ModelProvider
	registry *Registry
	executor ServerToolExecutor
	config   *LoopConfig
}

// NewController creates a controller. If config is nil, defaults apply.
func NewController(provider ModelProvider, registry *Registry, executor ServerToolExecutor, config *LoopConfig) *Controller {
	return &Controller{
		provider: provider,
		registry: registry,
		executor: executor,
		config:   sanitizeLoopConfig(config),
	}
}

// Run executes the loop and streams events through the returned channel.
// The channel closes after the terminal event (done or error). Only the
// first iteration streams token-by-token; later iterations are single
// blocking calls preceded by a status event so the client has continuous
// feedback.
func (c *Controller) Run(ctx context.Context, req *RunRequest) (<-chan *StreamEvent, error) {
	if c.provider == nil {
		return nil, ErrNoProvider
	}
	if req == nil {
		return nil, ErrNilRequest
	}

	events := make(chan *StreamEvent, eventBufferSize)

	state := &RunState{
		Turns: append([]models.ChatMessage(nil), req.Turns...),
	}

	go func() {
		defer close(events)
		c.run(ctx, req, state, events)
	}()

	return events, nil
}

func (c *Controller) run(ctx context.Context, req *RunRequest, state *RunState, events chan<- *StreamEvent) {
	log := c.config.Logger

	for state.Iteration < c.config.MaxIterations {
		select {
		case <-ctx.Done():
			events <- errorEvent(ctx.Err().Error())
			return
		default:
		}

		state.FullText = ""
		state.announced = make(map[string]bool)

		var text string
		var calls []models.ToolCall
		var err error

		if state.Iteration == 0 {
			text, calls, err = c.streamTurn(ctx, req, state, events)
		} else {
			events <- statusEvent("Thinking...")
			text, calls, err = c.generateTurn(ctx, req, state, events)
		}
		if err != nil {
			log.Error("model call failed", "provider", c.provider.Name(), "iteration", state.Iteration, "error", err)
			c.countTermination("error")
			events <- errorEvent(err.Error())
			return
		}

		state.Iteration++

		server, client := c.partition(calls)
		state.Deferred = append(state.Deferred, client...)

		if len(server) == 0 && len(client) == 0 {
			c.finish(events, state, ReasonNoToolCalls)
			return
		}
		if len(server) == 0 {
			// The server has nothing left to do; waiting would only
			// burn iteration budget while the client confirms.
			c.finish(events, state, ReasonClientHandoff)
			return
		}

		observations := c.dispatchTools(ctx, req, state, server, events)

		assistantText := text
		if strings.TrimSpace(assistantText) == "" {
			assistantText = c.config.FillerText
		}
		state.Turns = append(state.Turns,
			models.ChatMessage{Role: models.RoleAssistant, Content: assistantText},
			models.ChatMessage{Role: models.RoleUser, Content: observations},
		)
	}

	// Ceiling hit with the model still requesting tools: a safety valve,
	// not an error. No further model call is made.
	log.Warn("agent run hit iteration ceiling", "iterations", state.Iteration)
	events <- statusEvent(fmt.Sprintf("Reached maximum steps (%d). Stopping here.", c.config.MaxIterations))
	c.finish(events, state, ReasonMaxIterations)
}

func (c *Controller) finish(events chan<- *StreamEvent, state *RunState, reason string) {
	c.countTermination(reason)
	if m := c.config.Metrics; m != nil {
		m.RunIterations.Observe(float64(state.Iteration))
	}
	events <- doneEvent(state.Iteration, reason, state.Deferred)
}

func (c *Controller) countTermination(reason string) {
	if m := c.config.Metrics; m != nil {
		m.RunTerminations.WithLabelValues(reason).Inc()
	}
}

// streamTurn performs the first, token-streamed model call.
func (c *Controller) streamTurn(ctx context.Context, req *RunRequest, state *RunState, events chan<- *StreamEvent) (string, []models.ToolCall, error) {
	start := time.Now()
	chunks, err := c.provider.Stream(ctx, c.completionRequest(req, state))
	if err != nil {
		c.countModelCall("stream", start, err)
		return "", nil, err
	}

	var calls []models.ToolCall
	// Argument fragments per open tool call, for live previews only.
	partials := make(map[string]*strings.Builder)
	names := make(map[string]string)

	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			c.countModelCall("stream", start, chunk.Error)
			return "", nil, chunk.Error

		case chunk.Text != "":
			state.FullText += chunk.Text
			events <- textEvent(chunk.Text, state.FullText)

		case chunk.ToolStart != nil:
			tc := ensureToolCallID(*chunk.ToolStart)
			state.announced[tc.ID] = true
			names[tc.ID] = tc.Name
			events <- toolStartEvent(tc)

		case chunk.ArgsDelta != nil:
			buf := partials[chunk.ArgsDelta.ToolCallID]
			if buf == nil {
				buf = &strings.Builder{}
				partials[chunk.ArgsDelta.ToolCallID] = buf
			}
			buf.WriteString(chunk.ArgsDelta.Fragment)
			// Best-effort preview; failures are silent and superseded
			// by the authoritative parse when the call closes.
			if args := PreviewArguments(buf.String()); args != nil {
				events <- toolArgsEvent(chunk.ArgsDelta.ToolCallID, names[chunk.ArgsDelta.ToolCallID], args)
			}

		case chunk.ToolCall != nil:
			calls = append(calls, ensureToolCallID(*chunk.ToolCall))
		}
	}

	c.countModelCall("stream", start, nil)
	return state.FullText, calls, nil
}

// generateTurn performs a later, blocking model call. The full text is
// emitted as a single event.
func (c *Controller) generateTurn(ctx context.Context, req *RunRequest, state *RunState, events chan<- *StreamEvent) (string, []models.ToolCall, error) {
	start := time.Now()
	completion, err := c.provider.Generate(ctx, c.completionRequest(req, state))
	c.countModelCall("generate", start, err)
	if err != nil {
		return "", nil, err
	}

	calls := make([]models.ToolCall, 0, len(completion.ToolCalls))
	for _, tc := range completion.ToolCalls {
		calls = append(calls, ensureToolCallID(tc))
	}

	if completion.Content != "" {
		state.FullText = completion.Content
		events <- textEvent(completion.Content, completion.Content)
	}
	return completion.Content, calls, nil
}

func (c *Controller) completionRequest(req *RunRequest, state *RunState) *CompletionRequest {
	return &CompletionRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  state.Turns,
		Tools:     c.registry.Describe(),
		MaxTokens: c.config.MaxTokens,
	}
}

// partition splits tool calls into server-executable and client-deferred
// sets. Every call lands in exactly one set; unrecognized names are logged
// and dropped.
func (c *Controller) partition(calls []models.ToolCall) (server, client []models.ToolCall) {
	for _, tc := range calls {
		switch c.registry.Classify(tc.Name) {
		case ScopeServer:
			server = append(server, tc)
		case ScopeClient:
			client = append(client, tc)
		default:
			c.config.Logger.Warn("model requested unrecognized tool", "tool", tc.Name, "tool_call_id", tc.ID)
		}
	}
	return server, client
}

// dispatchTools runs server tools sequentially in request order and returns
// the concatenated observations for the synthetic user turn. Tools run one
// at a time: later tools may depend on earlier status events reaching the
// client first.
func (c *Controller) dispatchTools(ctx context.Context, req *RunRequest, state *RunState, server []models.ToolCall, events chan<- *StreamEvent) string {
	observations := make([]string, 0, len(server))

	for _, tc := range server {
		if !state.announced[tc.ID] {
			state.announced[tc.ID] = true
			events <- toolStartEvent(tc)
		}

		start := time.Now()
		outcome := c.executor.Execute(ctx, tc, ToolContext{
			AccessToken: req.AccessToken,
			ThreadID:    req.ThreadID,
		})
		c.countToolExecution(tc.Name, start, outcome.Success)

		events <- toolDoneEvent(tc, outcome.Result, outcome.Success)
		if len(outcome.Sources) > 0 {
			events <- searchResultEvent(tc.ID, outcome.Sources)
		}

		observations = append(observations, fmt.Sprintf("[%s result]\n%s", tc.Name, outcome.Result))
	}

	return strings.Join(observations, "\n\n")
}

func (c *Controller) countModelCall(mode string, start time.Time, err error) {
	m := c.config.Metrics
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.LLMRequestDuration.WithLabelValues(c.provider.Name(), mode).Observe(time.Since(start).Seconds())
	m.LLMRequestCounter.WithLabelValues(c.provider.Name(), mode, status).Inc()
}

func (c *Controller) countToolExecution(tool string, start time.Time, success bool) {
	m := c.config.Metrics
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

// ensureToolCallID fills in a synthesized ID when the provider omitted one,
// so results can still be paired with their calls.
func ensureToolCallID(tc models.ToolCall) models.ToolCall {
	if tc.ID == "" {
		tc.ID = fmt.Sprintf("call-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	}
	return tc
}
