package models

import "time"

// EnvelopeKind is the wire identifier of the envelope contract.
const EnvelopeKind = "envelope.v2"

// Stable reason codes carried in envelope.error.code and
// envelope.policy.reasonCode. Codes are part of the contract with
// downstream log pipelines; never rename them.
const (
	CodeOK                 = "OK"
	CodeToolNotAllowed     = "TOOL_NOT_ALLOWED"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeForbidden          = "FORBIDDEN"
	CodeToolExecutionError = "TOOL_EXECUTION_FAILED"
	CodeContractError      = "CONTRACT_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
)

// PolicyDecision values.
const (
	PolicyAllow = "allow"
	PolicyDeny  = "deny"
)

// EnvelopeTool identifies the invoked tool.
type EnvelopeTool struct {
	Name          string `json:"name"`
	RequiresWrite bool   `json:"requiresWrite"`
}

// EnvelopeError carries a stable code plus a human message. Details hold
// field-level validation or flattened schema errors.
type EnvelopeError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// EnvelopeMeta echoes the execution context the call ran under.
type EnvelopeMeta struct {
	TenantID      string   `json:"tenantId"`
	UserID        string   `json:"userId"`
	CorrelationID string   `json:"correlationId,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// EnvelopeTelemetry carries per-call timing and correlation.
type EnvelopeTelemetry struct {
	RequestID  string `json:"requestId,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// EnvelopePolicy records the authorization outcome for the call.
// decision is "deny" exactly when ok is false.
type EnvelopePolicy struct {
	Decision       string    `json:"decision"`
	ReasonCode     string    `json:"reasonCode"`
	CheckedAt      time.Time `json:"checkedAtUtc"`
	RolesEvaluated []string  `json:"rolesEvaluated,omitempty"`
}

// Envelope is the uniform response container produced for every tool
// call. Invariants: ok=true implies Error is nil; ok=false implies Error
// is set and Data is empty.
type Envelope struct {
	Kind             string            `json:"kind"`
	GeneratedAt      time.Time         `json:"generatedAtUtc"`
	Tool             EnvelopeTool      `json:"tool"`
	OK               bool              `json:"ok"`
	Message          string            `json:"message,omitempty"`
	NormalizedIntent any               `json:"normalizedIntent,omitempty"`
	Data             any               `json:"data,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
	Error            *EnvelopeError    `json:"error,omitempty"`
	Meta             EnvelopeMeta      `json:"meta"`
	Telemetry        EnvelopeTelemetry `json:"telemetry"`
	Policy           EnvelopePolicy    `json:"policy"`
	Source           string            `json:"source,omitempty"`
	Evidence         []any             `json:"evidence"`

	// Compaction markers, set only on the chat-history copy.
	Compacted bool   `json:"compacted,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Note      string `json:"note,omitempty"`
}
