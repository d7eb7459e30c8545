// Package invoker drives the fail-closed pipeline every tool call walks:
// exposure check, registry validation, authorization, dispatch, response
// contract validation, evidence fallback, envelope construction. Every
// terminal state yields a full envelope; nothing escapes as a raw error
// or panic.
package invoker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bindevz/tilsoftai/internal/compaction"
	"github.com/bindevz/tilsoftai/internal/contracts"
	"github.com/bindevz/tilsoftai/internal/dispatch"
	"github.com/bindevz/tilsoftai/internal/engine"
	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

// Call is one tool call as emitted by the LLM: the tool name, its raw
// JSON arguments, and the set of tools exposed for this turn.
type Call struct {
	Tool    string
	RawArgs json.RawMessage
	Exposed map[string]bool
}

// Invocation is the invoker's verdict: the full envelope for the API
// client plus the compacted JSON copy destined for the chat history.
type Invocation struct {
	Envelope *models.Envelope
	History  []byte
}

// Invoker wires the pipeline stages together.
type Invoker struct {
	registry   *tools.Registry
	dispatcher *dispatch.Dispatcher
	validator  *contracts.Validator
	compactor  *compaction.Compactor
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	now func() time.Time
}

// New assembles an invoker. metrics and tracer may be nil in tests.
func New(registry *tools.Registry, dispatcher *dispatch.Dispatcher, validator *contracts.Validator,
	compactor *compaction.Compactor, logger *observability.Logger,
	metrics *observability.Metrics, tracer *observability.Tracer) *Invoker {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Invoker{
		registry:   registry,
		dispatcher: dispatcher,
		validator:  validator,
		compactor:  compactor,
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		now:        time.Now,
	}
}

// Invoke runs one tool call through the pipeline. It always returns a
// usable Invocation; pipeline failures surface as failure envelopes,
// never as errors.
func (iv *Invoker) Invoke(ctx context.Context, call Call, execCtx models.ExecutionContext) *Invocation {
	start := iv.now()
	if iv.tracer != nil {
		spanCtx, span := iv.tracer.TraceToolExecution(ctx, call.Tool)
		defer span.End()
		ctx = spanCtx
	}

	env := iv.run(ctx, call, execCtx)
	env.Telemetry.DurationMs = time.Since(start).Milliseconds()

	history := iv.compactor.CompactForHistory(env)
	iv.observe(ctx, env, history, execCtx)

	return &Invocation{Envelope: env, History: history}
}

// run walks the stages and returns the uncompacted envelope.
func (iv *Invoker) run(ctx context.Context, call Call, execCtx models.ExecutionContext) (env *models.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			iv.logger.Error(ctx, "tool handler panicked", "tool", call.Tool, "panic", fmt.Sprint(r))
			env = iv.fail(call.Tool, false, execCtx, models.CodeInternalError,
				"internal error while executing the tool", nil)
		}
	}()

	// Exposure.
	if !call.Exposed[call.Tool] {
		return iv.fail(call.Tool, false, execCtx, models.CodeToolNotAllowed,
			fmt.Sprintf("tool %q is not available in this turn", call.Tool), nil)
	}

	reg, ok := iv.registry.Get(call.Tool)
	if !ok {
		return iv.fail(call.Tool, false, execCtx, models.CodeValidationError,
			fmt.Sprintf("tool %q is not registered", call.Tool), nil)
	}

	// Registry validation.
	intent, warnings, err := iv.registry.Validate(call.Tool, call.RawArgs)
	if err != nil {
		var verr *tools.ValidationError
		details := []string(nil)
		if errors.As(err, &verr) && verr.Field != "" {
			details = []string{fmt.Sprintf("%s: %s", verr.Field, verr.Msg)}
		}
		return iv.fail(call.Tool, reg.RequiresWrite, execCtx, models.CodeValidationError,
			err.Error(), details)
	}

	// Authorization.
	if denied := iv.authorize(reg, execCtx); denied != "" {
		return iv.fail(call.Tool, reg.RequiresWrite, execCtx, models.CodeForbidden, denied, nil)
	}

	// Dispatch.
	outcome, err := iv.dispatcher.Dispatch(ctx, intent, execCtx)
	if err != nil {
		var noHandler *dispatch.NoHandlerError
		if errors.As(err, &noHandler) {
			return iv.fail(call.Tool, reg.RequiresWrite, execCtx, models.CodeInternalError,
				"tool has no registered handler", nil)
		}
		var argErr *engine.ArgError
		if errors.As(err, &argErr) {
			return iv.fail(call.Tool, reg.RequiresWrite, execCtx, models.CodeValidationError,
				argErr.Msg, nil)
		}
		return iv.fail(call.Tool, reg.RequiresWrite, execCtx, models.CodeToolExecutionError,
			err.Error(), nil)
	}
	if outcome == nil {
		return iv.fail(call.Tool, reg.RequiresWrite, execCtx, models.CodeInternalError,
			"tool handler returned no outcome", nil)
	}
	warnings = append(warnings, outcome.Warnings...)
	if !outcome.Success {
		msg := outcome.Message
		if msg == "" {
			msg = "tool execution failed"
		}
		env := iv.fail(call.Tool, reg.RequiresWrite, execCtx, models.CodeToolExecutionError, msg, nil)
		env.Warnings = warnings
		env.Source = outcome.Source
		return env
	}

	// Response contract.
	if iv.validator != nil && outcome.Data != nil {
		contractWarnings, err := iv.validator.Validate(outcome.Data)
		warnings = append(warnings, contractWarnings...)
		if err != nil {
			var cerr *contracts.ContractError
			details := []string(nil)
			if errors.As(err, &cerr) {
				details = cerr.Details
			}
			return iv.fail(call.Tool, reg.RequiresWrite, execCtx, models.CodeContractError,
				"tool response violates its contract", details)
		}
	}

	// Evidence fallback keeps the planner from treating the compacted
	// history copy as an empty result.
	evidence := make([]any, 0, 1)
	if outcome.Evidence != nil {
		evidence = append(evidence, outcome.Evidence)
	} else if outcome.Data != nil {
		pruned, _ := compaction.Prune(outcome.Data, compaction.DefaultPruneBounds())
		evidence = append(evidence, pruned)
	}

	now := iv.now().UTC()
	return &models.Envelope{
		Kind:             models.EnvelopeKind,
		GeneratedAt:      now,
		Tool:             models.EnvelopeTool{Name: call.Tool, RequiresWrite: reg.RequiresWrite},
		OK:               true,
		Message:          outcome.Message,
		NormalizedIntent: intent.Args,
		Data:             outcome.Data,
		Warnings:         warnings,
		Meta:             iv.meta(execCtx),
		Telemetry:        iv.telemetry(ctx, execCtx),
		Policy: models.EnvelopePolicy{
			Decision:       models.PolicyAllow,
			ReasonCode:     models.CodeOK,
			CheckedAt:      now,
			RolesEvaluated: execCtx.Roles,
		},
		Source:   outcome.Source,
		Evidence: evidence,
	}
}

// authorize returns a denial message, or empty when allowed. Write
// tools require a role from the tool's allow-list; reads require any
// authenticated role.
func (iv *Invoker) authorize(reg *tools.Registration, execCtx models.ExecutionContext) string {
	if len(execCtx.Roles) == 0 {
		return "no roles present in the execution context"
	}
	if !reg.RequiresWrite {
		return ""
	}
	for _, role := range execCtx.Roles {
		for _, allowed := range reg.WriteRoles {
			if strings.EqualFold(role, allowed) {
				return ""
			}
		}
	}
	return fmt.Sprintf("tool %q requires a write role", reg.Name)
}

func (iv *Invoker) fail(tool string, requiresWrite bool, execCtx models.ExecutionContext, code, message string, details []string) *models.Envelope {
	now := iv.now().UTC()
	return &models.Envelope{
		Kind:        models.EnvelopeKind,
		GeneratedAt: now,
		Tool:        models.EnvelopeTool{Name: tool, RequiresWrite: requiresWrite},
		OK:          false,
		Message:     message,
		Error: &models.EnvelopeError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta:      iv.meta(execCtx),
		Telemetry: iv.telemetry(context.Background(), execCtx),
		Policy: models.EnvelopePolicy{
			Decision:       models.PolicyDeny,
			ReasonCode:     code,
			CheckedAt:      now,
			RolesEvaluated: execCtx.Roles,
		},
		Evidence: []any{},
	}
}

func (iv *Invoker) meta(execCtx models.ExecutionContext) models.EnvelopeMeta {
	return models.EnvelopeMeta{
		TenantID:      execCtx.TenantID,
		UserID:        execCtx.UserID,
		CorrelationID: execCtx.CorrelationID,
		Roles:         execCtx.Roles,
	}
}

func (iv *Invoker) telemetry(ctx context.Context, execCtx models.ExecutionContext) models.EnvelopeTelemetry {
	traceID := execCtx.TraceID
	if traceID == "" {
		traceID = observability.GetTraceID(ctx)
	}
	return models.EnvelopeTelemetry{
		RequestID: execCtx.RequestID,
		TraceID:   traceID,
	}
}

// observe emits the per-call telemetry log line and metrics.
func (iv *Invoker) observe(ctx context.Context, env *models.Envelope, history []byte, execCtx models.ExecutionContext) {
	status := "ok"
	reasonCode := ""
	if !env.OK {
		status = "error"
		reasonCode = env.Error.Code
	}

	args := []any{
		"tool", env.Tool.Name,
		"ok", env.OK,
		"duration_ms", env.Telemetry.DurationMs,
		"compacted_bytes", len(history),
		"truncated", env.Truncated,
		"output_hash", outputHash(env.Data),
		"tenant_id", execCtx.TenantID,
		"user_id", execCtx.UserID,
	}
	if id := datasetIDOf(env.Data); id != "" {
		args = append(args, "dataset_id", id)
	}
	if env.OK {
		iv.logger.Info(ctx, "tool call completed", args...)
	} else {
		args = append(args, "reason_code", reasonCode)
		iv.logger.Warn(ctx, "tool call failed", args...)
	}

	if iv.metrics != nil {
		iv.metrics.RecordToolInvocation(env.Tool.Name, status, reasonCode,
			float64(env.Telemetry.DurationMs)/1000)
		if !env.OK {
			iv.metrics.RecordError("invoker", reasonCode)
		}
	}
}

// outputHash is a stable digest of the data payload for log correlation.
func outputHash(data any) string {
	if data == nil {
		return ""
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

func datasetIDOf(data any) string {
	m, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := m["datasetId"].(string); ok {
		return id
	}
	return ""
}
