// Package providers implements the model backends behind agent.ModelProvider.
//
// Two providers are supported: Anthropic's Claude API (official SDK,
// server-sent event streaming) and OpenAI's chat completions API
// (sashabaranov/go-openai). Both normalize their wire formats into the
// agent package's chunk vocabulary so the loop controller never branches
// on provider identity.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/mailpilot/internal/agent"
	"github.com/haasonsaas/mailpilot/pkg/models"
)

const (
	anthropicDefaultModel = "claude-sonnet-4-20250514"

	// anthropicFallbackModel is an older model tried once when the
	// requested model is unrecognized. Kept distinct from the default so
	// the retry still has somewhere to go when the default itself ages out.
	anthropicFallbackModel = "claude-3-5-sonnet-20241022"

	defaultMaxTokens = 4096
)

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements agent.ModelProvider against Anthropic's
// Messages API.
//
// When the upstream rejects the requested model as unrecognized, the
// provider retries exactly once with its fallback model. Any other failure
// surfaces immediately as a *ProviderError.
//
// Safe for concurrent use; each call creates an independent stream.
type AnthropicProvider struct {
	client        anthropic.Client
	defaultModel  string
	fallbackModel string
}

// AnthropicConfig configures an AnthropicProvider. Only APIKey is required.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string

	// BaseURL overrides the API endpoint. Used by tests.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// FallbackModel is tried once when the requested model is not
	// recognized by the API.
	FallbackModel string
}

// NewAnthropicProvider creates a provider from config, applying defaults
// for every optional field.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = anthropicDefaultModel
	}
	if config.FallbackModel == "" {
		config.FallbackModel = anthropicFallbackModel
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:        anthropic.NewClient(options...),
		defaultModel:  config.DefaultModel,
		fallbackModel: config.FallbackModel,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Stream sends a completion request and streams the response chunk by
// chunk. The returned channel closes after a Done or Error chunk.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, agent.ErrNilRequest
	}

	chunks := make(chan *agent.CompletionChunk)

	go func() {
		defer close(chunks)

		model := p.model(req.Model)
		emitted, err := p.streamOnce(ctx, req, model, chunks)
		if err == nil {
			return
		}

		// An unrecognized model fails before any content arrives, so a
		// clean retry with the fallback is possible. Never retry once
		// output has been forwarded.
		if !emitted && IsModelUnavailable(err) && model != p.fallbackModel {
			if _, retryErr := p.streamOnce(ctx, req, p.fallbackModel, chunks); retryErr == nil {
				return
			} else {
				err = retryErr
			}
		}

		chunks <- &agent.CompletionChunk{Error: err}
	}()

	return chunks, nil
}

// streamOnce runs a single streaming attempt against one model. It reports
// whether any chunk was forwarded, which gates the fallback retry.
func (p *AnthropicProvider) streamOnce(ctx context.Context, req *agent.CompletionRequest, model string, chunks chan<- *agent.CompletionChunk) (bool, error) {
	params, err := p.buildParams(req, model)
	if err != nil {
		return false, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	return p.processStream(stream, chunks, model)
}

// processStream converts Anthropic SSE events into completion chunks.
//
// Tool calls arrive in three phases: content_block_start carries the ID and
// name, input_json_delta events stream argument fragments, and
// content_block_stop closes the call. The accumulated fragments become the
// authoritative Input on the final ToolCall chunk.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) (bool, error) {
	var pending *models.ToolCall
	var pendingInput strings.Builder
	var stopReason string
	emitted := false
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				pending = &models.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				pendingInput.Reset()
				chunks <- &agent.CompletionChunk{
					ToolStart: &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name},
				}
				emitted = true
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: delta.Text}
					emitted = true
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && pending != nil {
					pendingInput.WriteString(delta.PartialJSON)
					chunks <- &agent.CompletionChunk{
						ArgsDelta: &agent.ToolCallDelta{
							ToolCallID: pending.ID,
							Fragment:   delta.PartialJSON,
						},
					}
					emitted = true
					processed = true
				}
			}

		case "content_block_stop":
			if pending != nil {
				raw := pendingInput.String()
				if raw == "" {
					raw = "{}"
				}
				pending.Input = json.RawMessage(raw)
				chunks <- &agent.CompletionChunk{ToolCall: pending}
				pending = nil
				emitted = true
				processed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Delta.StopReason != "" {
				stopReason = string(messageDelta.Delta.StopReason)
			}
			processed = true

		case "message_stop":
			chunks <- &agent.CompletionChunk{Done: true, StopReason: stopReason}
			return true, nil

		case "error":
			return emitted, p.wrapError(errors.New("anthropic stream error"), model)
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				return emitted, p.wrapError(
					fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEvents),
					model,
				)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return emitted, p.wrapError(err, model)
	}

	// The stream ended without message_stop. Treat a stream that produced
	// output as complete rather than failing the whole turn.
	if emitted {
		chunks <- &agent.CompletionChunk{Done: true, StopReason: stopReason}
		return true, nil
	}
	return false, p.wrapError(errors.New("stream ended without content"), model)
}

// Generate sends a blocking completion request and returns the full result.
func (p *AnthropicProvider) Generate(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	if req == nil {
		return nil, agent.ErrNilRequest
	}

	model := p.model(req.Model)
	result, err := p.generateOnce(ctx, req, model)
	if err != nil && IsModelUnavailable(err) && model != p.fallbackModel {
		result, err = p.generateOnce(ctx, req, p.fallbackModel)
	}
	return result, err
}

func (p *AnthropicProvider) generateOnce(ctx context.Context, req *agent.CompletionRequest, model string) (*agent.Completion, error) {
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	completion := &agent.Completion{
		StopReason: string(message.StopReason),
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			input := json.RawMessage(toolUse.JSON.Input.Raw())
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
				ID:    toolUse.ID,
				Name:  toolUse.Name,
				Input: input,
			})
		}
	}
	completion.Content = text.String()

	return completion, nil
}

// buildParams converts a completion request into Anthropic API parameters.
// The system prompt travels outside the message list, and every history
// turn becomes a single text content block.
func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == models.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(p.maxTokens(req.MaxTokens)),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	return params, nil
}

func (p *AnthropicProvider) convertTools(specs []agent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", spec.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", spec.Name)
		}
		toolParam.OfTool.Description = anthropic.String(spec.Description)

		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) maxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return defaultMaxTokens
	}
	return maxTokens
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// wrapError normalizes SDK errors into *ProviderError so the fallback
// logic and callers can classify failures uniformly.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var existing *ProviderError
	if errors.As(err, &existing) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					providerErr = providerErr.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					providerErr = providerErr.WithCode(payload.Error.Type)
				}
			}
		}
		if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}

		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}
