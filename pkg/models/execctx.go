package models

// ExecutionContext is the immutable identity a tool call runs under.
// Handlers receive it read-only; they never perform authorization with it.
type ExecutionContext struct {
	TenantID       string
	UserID         string
	Roles          []string
	CorrelationID  string
	RequestID      string
	TraceID        string
	ConversationID string

	// ConfirmToken is the hex token extracted from a "CONFIRM <hex32>"
	// user turn, when present. Commit handlers read it to resolve the
	// pending confirmation plan.
	ConfirmToken string

	// Language is the resolved preferred language code for this turn.
	Language string
}

// HasRole reports whether the context carries the given role.
func (c ExecutionContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
