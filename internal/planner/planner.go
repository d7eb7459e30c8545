// Package planner drives one chat turn: a bounded LLM tool-calling
// loop with a per-turn signature circuit breaker and a final synthesis
// pass. Each turn owns its loop state; nothing is shared across turns
// beyond the conversation store.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bindevz/tilsoftai/internal/conversation"
	"github.com/bindevz/tilsoftai/internal/invoker"
	"github.com/bindevz/tilsoftai/internal/llm"
	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

// Tuning bounds. Max steps clamps to [MinSteps, MaxStepsCeiling];
// identical tool calls trip the breaker past breakerThreshold.
const (
	MinSteps         = 1
	MaxStepsCeiling  = 20
	DefaultMaxSteps  = 6
	breakerThreshold = 2
)

// Config tunes one planner instance.
type Config struct {
	Model                string
	MaxSteps             int
	MaxTokens            int
	ToolTemperature      float32
	SynthesisTemperature float32
}

// ToolRunner executes one tool call end to end. *invoker.Invoker is the
// production implementation.
type ToolRunner interface {
	Invoke(ctx context.Context, call invoker.Call, execCtx models.ExecutionContext) *invoker.Invocation
}

// TurnRequest is one user turn handed to the planner.
type TurnRequest struct {
	Messages []models.ChatMessage
	// Exposed names the tools available this turn; empty means every
	// registered tool.
	Exposed []string
	ExecCtx models.ExecutionContext
}

// TurnResult is the planner's answer for a turn.
type TurnResult struct {
	Content      string
	Usage        models.Usage
	Steps        int
	BreakerTrip  bool
	ToolEnvelope []*models.Envelope
}

// Planner runs turns. Safe for concurrent use; all per-turn state lives
// on the stack of RunTurn.
type Planner struct {
	provider      llm.Provider
	runner        ToolRunner
	registry      *tools.Registry
	conversations *conversation.Store
	logger        *observability.Logger
	metrics       *observability.Metrics
	cfg           Config
}

// New assembles a planner. conversations, metrics may be nil in tests.
func New(provider llm.Provider, runner ToolRunner, registry *tools.Registry,
	conversations *conversation.Store, logger *observability.Logger,
	metrics *observability.Metrics, cfg Config) *Planner {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxSteps < MinSteps {
		cfg.MaxSteps = MinSteps
	}
	if cfg.MaxSteps > MaxStepsCeiling {
		cfg.MaxSteps = MaxStepsCeiling
	}
	return &Planner{
		provider:      provider,
		runner:        runner,
		registry:      registry,
		conversations: conversations,
		logger:        logger,
		metrics:       metrics,
		cfg:           cfg,
	}
}

// RunTurn drives the loop for one turn and returns the final assistant
// content. Tool failures never abort the turn; they reach the model as
// failure envelopes. Only LLM transport errors surface as errors.
func (p *Planner) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	execCtx := req.ExecCtx
	lang := p.resolveLanguage(&execCtx)
	if token := ExtractConfirmToken(req.Messages); token != "" {
		execCtx.ConfirmToken = token
	}

	history := p.seedHistory(lang, req.Messages)
	exposed := p.exposedSet(req.Exposed)
	schemas := p.registry.Schemas(req.Exposed)

	result := &TurnResult{}
	signatures := make(map[string]int)

	for step := 1; step <= p.cfg.MaxSteps; step++ {
		result.Steps = step
		completion, err := p.provider.Complete(ctx, &llm.CompletionRequest{
			Model:       p.cfg.Model,
			Messages:    history,
			Tools:       schemas,
			ToolChoice:  llm.ToolChoice{Mode: "auto"},
			Temperature: p.cfg.ToolTemperature,
			MaxTokens:   p.cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("planner step %d: %w", step, err)
		}
		addUsage(&result.Usage, completion.Usage)

		msg := completion.Message
		if len(msg.ToolCalls) == 0 {
			history = append(history, msg)
			break
		}

		if tripped := bumpSignatures(signatures, msg.ToolCalls); tripped != "" {
			result.BreakerTrip = true
			p.logger.Warn(ctx, "planner breaker tripped",
				"tool", tripped, "step", step,
				"tenant_id", execCtx.TenantID, "conversation_id", execCtx.ConversationID)
			if p.metrics != nil {
				p.metrics.RecordBreakerTrip(tripped)
			}
			break
		}

		history = append(history, msg)

		// Sequential by contract: later calls may reference dataset ids
		// produced by earlier ones.
		for _, call := range msg.ToolCalls {
			inv := p.runner.Invoke(ctx, invoker.Call{
				Tool:    call.Function.Name,
				RawArgs: json.RawMessage(call.Function.Arguments),
				Exposed: exposed,
			}, execCtx)
			result.ToolEnvelope = append(result.ToolEnvelope, inv.Envelope)
			history = append(history, models.ChatMessage{
				Role:       models.RoleTool,
				ToolCallID: call.ID,
				Content:    string(inv.History),
			})
		}
	}

	content, err := p.synthesize(ctx, lang, history, &result.Usage)
	if err != nil {
		return nil, err
	}
	result.Content = content

	p.rememberTurn(execCtx, lang, req.Messages)
	if p.metrics != nil {
		p.metrics.RecordPlannerTurn(result.Steps)
	}
	p.logger.Info(ctx, "planner turn completed",
		"steps", result.Steps, "breaker", result.BreakerTrip,
		"tool_calls", len(result.ToolEnvelope),
		"tenant_id", execCtx.TenantID, "conversation_id", execCtx.ConversationID)
	return result, nil
}

// seedHistory builds the opening history: the language-resolved system
// prompt, then the client messages minus any client-supplied system
// role.
func (p *Planner) seedHistory(lang string, messages []models.ChatMessage) []models.ChatMessage {
	history := make([]models.ChatMessage, 0, len(messages)+1)
	history = append(history, models.ChatMessage{
		Role:    models.RoleSystem,
		Content: systemPrompt(lang),
	})
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		history = append(history, msg)
	}
	return history
}

// synthesize issues the final completion with tools withheld. Empty
// content falls back to the localized message.
func (p *Planner) synthesize(ctx context.Context, lang string, history []models.ChatMessage, usage *models.Usage) (string, error) {
	messages := make([]models.ChatMessage, len(history))
	copy(messages, history)
	messages[0].Content = messages[0].Content + "\n\n" + synthesisDirective(lang)

	completion, err := p.provider.Complete(ctx, &llm.CompletionRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		Tools:       nil,
		ToolChoice:  llm.ToolChoice{Mode: "none"},
		Temperature: p.cfg.SynthesisTemperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		p.logger.Error(ctx, "synthesis completion failed", "error", err)
		return fallbackMessage(lang), nil
	}
	addUsage(usage, completion.Usage)

	content := strings.TrimSpace(completion.Message.Content)
	if content == "" {
		return fallbackMessage(lang), nil
	}
	return content, nil
}

// resolveLanguage prefers the caller's declared language, then the
// conversation's remembered one, then the default. The resolved code is
// written back onto the execution context.
func (p *Planner) resolveLanguage(execCtx *models.ExecutionContext) string {
	candidates := []string{execCtx.Language}
	if p.conversations != nil && execCtx.ConversationID != "" {
		if state, ok := p.conversations.Get(execCtx.TenantID, execCtx.ConversationID); ok {
			candidates = append(candidates, state.Language)
		}
	}
	lang := ResolveLanguage(candidates...)
	execCtx.Language = lang
	return lang
}

// rememberTurn persists the resolved language and the latest user text
// as the next turn's query hint.
func (p *Planner) rememberTurn(execCtx models.ExecutionContext, lang string, messages []models.ChatMessage) {
	if p.conversations == nil || execCtx.ConversationID == "" {
		return
	}
	hint := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			hint = messages[i].Content
			break
		}
	}
	if len(hint) > 256 {
		hint = hint[:256]
	}
	p.conversations.Touch(execCtx.TenantID, execCtx.ConversationID, lang, hint)
}

func (p *Planner) exposedSet(names []string) map[string]bool {
	if len(names) == 0 {
		names = p.registry.Names()
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// bumpSignatures counts each call's deterministic signature and returns
// the offending tool name when any count exceeds the threshold.
func bumpSignatures(counts map[string]int, calls []models.ToolCall) string {
	for _, call := range calls {
		sig := callSignature(call.Function.Name, call.Function.Arguments)
		counts[sig]++
		if counts[sig] > breakerThreshold {
			return call.Function.Name
		}
	}
	return ""
}

func callSignature(tool, args string) string {
	sum := sha256.Sum256([]byte(tool + "|" + args))
	return hex.EncodeToString(sum[:])
}

func addUsage(total *models.Usage, u models.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}
