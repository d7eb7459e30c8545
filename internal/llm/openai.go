package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/pkg/models"
)

// OpenAIProvider speaks the OpenAI-compatible chat completions API with
// tool calling, including self-hosted gateways that expose the same
// wire via a custom base URL.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	logger  *observability.Logger
	metrics *observability.Metrics

	// maxRetries bounds attempts for retryable failures (429, 5xx,
	// timeouts). Delay grows linearly: 0s, retryDelay, 2*retryDelay.
	maxRetries int
	retryDelay time.Duration
}

// OpenAIConfig configures the provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	MaxRetries int
	RetryDelay time.Duration
}

// NewOpenAIProvider creates the provider. Model and retry settings get
// serviceable defaults when unset.
func NewOpenAIProvider(cfg OpenAIConfig, logger *observability.Logger, metrics *observability.Metrics) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		logger:     logger,
		metrics:    metrics,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete issues one chat completion and converts the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
		chatReq.ToolChoice = toOpenAIToolChoice(req.ToolChoice)
	}

	start := time.Now()
	resp, err := p.completeWithRetry(ctx, chatReq)
	duration := time.Since(start).Seconds()

	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordLLMRequest(p.Name(), model, "error", duration, 0, 0)
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	if p.metrics != nil {
		p.metrics.RecordLLMRequest(p.Name(), model, "success", duration,
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	choice := resp.Choices[0]
	return &Completion{
		Message:      fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// completeWithRetry retries transient failures with linear backoff.
func (p *OpenAIProvider) completeWithRetry(ctx context.Context, chatReq openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn(ctx, "retrying LLM request", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return openai.ChatCompletionResponse{}, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return openai.ChatCompletionResponse{}, fmt.Errorf("non-retryable error: %w", err)
		}
	}
	return openai.ChatCompletionResponse{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable classifies rate limits, server errors, and timeouts.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	}
	return false
}

func toOpenAIMessages(messages []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) models.ChatMessage {
	out := models.ChatMessage{
		Role:    m.Role,
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: models.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func toOpenAITools(tools []models.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func toOpenAIToolChoice(choice ToolChoice) any {
	if choice.Function != "" {
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice.Function},
		}
	}
	if choice.Mode == "" {
		return "auto"
	}
	return choice.Mode
}
