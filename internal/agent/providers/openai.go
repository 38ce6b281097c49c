package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/mailpilot/internal/agent"
	"github.com/haasonsaas/mailpilot/pkg/models"
)

const (
	openaiDefaultModel = "gpt-4o"

	// openaiFallbackModel is tried once when the requested model is
	// unrecognized. Kept distinct from the default so the retry still has
	// somewhere to go when the default itself ages out.
	openaiFallbackModel = "gpt-4o-mini"
)

// OpenAIProvider implements agent.ModelProvider against OpenAI's chat
// completions API.
//
// Unlike Anthropic, OpenAI streams tool calls incrementally: the first
// fragment for a call carries its ID and function name, later fragments
// carry argument JSON, and a finish reason of "tool_calls" closes them all
// at once. The provider accumulates per-index state and re-emits the
// normalized ToolStart / ArgsDelta / ToolCall sequence.
//
// Safe for concurrent use.
type OpenAIProvider struct {
	client        *openai.Client
	defaultModel  string
	fallbackModel string
}

// OpenAIConfig configures an OpenAIProvider. Only APIKey is required.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint. Used by tests.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// FallbackModel is tried once when the requested model is not
	// recognized by the API.
	FallbackModel string
}

// NewOpenAIProvider creates a provider from config, applying defaults for
// every optional field.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = openaiDefaultModel
	}
	if config.FallbackModel == "" {
		config.FallbackModel = openaiFallbackModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:        openai.NewClientWithConfig(clientConfig),
		defaultModel:  config.DefaultModel,
		fallbackModel: config.FallbackModel,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Stream sends a completion request and streams the response chunk by
// chunk. The returned channel closes after a Done or Error chunk.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, agent.ErrNilRequest
	}

	model := p.model(req.Model)
	chatReq := p.buildRequest(req, model)
	chatReq.Stream = true

	// Stream creation performs the HTTP request, so an unrecognized model
	// fails here, before any output exists. That makes the fallback retry
	// safe to do at creation time.
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		wrapped := p.wrapError(err, model)
		if IsModelUnavailable(wrapped) && model != p.fallbackModel {
			chatReq.Model = p.fallbackModel
			stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
			if err != nil {
				return nil, p.wrapError(err, p.fallbackModel)
			}
		} else {
			return nil, wrapped
		}
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, chatReq.Model)

	return chunks, nil
}

// pendingCall tracks one tool call as it accumulates across stream deltas.
type pendingCall struct {
	call      models.ToolCall
	args      strings.Builder
	announced bool
	flushed   bool
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	// OpenAI interleaves parallel tool calls; the index keys them.
	pending := make(map[int]*pendingCall)
	var order []int
	var stopReason string

	flush := func() {
		for _, index := range order {
			pc := pending[index]
			if pc.flushed || pc.call.ID == "" || pc.call.Name == "" {
				continue
			}
			raw := pc.args.String()
			if raw == "" {
				raw = "{}"
			}
			call := pc.call
			call.Input = json.RawMessage(raw)
			chunks <- &agent.CompletionChunk{ToolCall: &call}
			pc.flushed = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &agent.CompletionChunk{Done: true, StopReason: stopReason}
				return
			}
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}

			pc, ok := pending[index]
			if !ok {
				pc = &pendingCall{}
				pending[index] = pc
				order = append(order, index)
			}

			if tc.ID != "" {
				pc.call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				pc.call.Name = tc.Function.Name
			}

			// Announce the call once its identity is known, before any
			// argument fragments for it go out.
			if !pc.announced && pc.call.ID != "" && pc.call.Name != "" {
				chunks <- &agent.CompletionChunk{
					ToolStart: &models.ToolCall{ID: pc.call.ID, Name: pc.call.Name},
				}
				pc.announced = true
			}

			if tc.Function.Arguments != "" {
				pc.args.WriteString(tc.Function.Arguments)
				if pc.announced {
					chunks <- &agent.CompletionChunk{
						ArgsDelta: &agent.ToolCallDelta{
							ToolCallID: pc.call.ID,
							Fragment:   tc.Function.Arguments,
						},
					}
				}
			}
		}

		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// Generate sends a blocking completion request and returns the full result.
func (p *OpenAIProvider) Generate(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
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

func (p *OpenAIProvider) generateOnce(ctx context.Context, req *agent.CompletionRequest, model string) (*agent.Completion, error) {
	response, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, model))
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	if len(response.Choices) == 0 {
		return nil, NewProviderError("openai", model, errors.New("response contained no choices"))
	}

	choice := response.Choices[0]
	completion := &agent.Completion{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}

	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	return completion, nil
}

// buildRequest converts a completion request into OpenAI API parameters.
// The system prompt becomes the first message of the array.
func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest, model string) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	return chatReq
}

func (p *OpenAIProvider) convertTools(specs []agent.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(specs))

	for i, spec := range specs {
		var schemaMap map[string]any
		if err := json.Unmarshal(spec.Schema, &schemaMap); err != nil {
			// A bad schema degrades to an empty object so the remaining
			// tools still work.
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaMap,
			},
		}
	}

	return result
}

func (p *OpenAIProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// wrapError normalizes SDK errors into *ProviderError.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var existing *ProviderError
	if errors.As(err, &existing) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "openai",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if providerErr.Message == "" {
			providerErr.Message = fmt.Sprintf("openai request failed with status %d", apiErr.HTTPStatusCode)
		}
		return providerErr
	}

	return NewProviderError("openai", model, err)
}
