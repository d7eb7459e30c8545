// Package llm abstracts the chat-completion wire. The engine speaks the
// OpenAI-compatible tool-calling dialect; providers are non-streaming by
// design, one completion per planner step.
package llm

import (
	"context"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// ToolChoice selects how the model may use tools.
type ToolChoice struct {
	// Mode is "auto" or "none"; when Function is set the model is forced
	// to call that function.
	Mode     string
	Function string
}

// CompletionRequest is one chat completion ask.
type CompletionRequest struct {
	Model       string
	Messages    []models.ChatMessage
	Tools       []models.ToolSchema
	ToolChoice  ToolChoice
	Temperature float32
	MaxTokens   int
}

// Completion is the provider's answer: a single assistant message which
// may carry tool calls.
type Completion struct {
	Message      models.ChatMessage
	FinishReason string
	Usage        models.Usage
}

// Provider is the LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}
