package compaction

import (
	"encoding/json"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// DefaultMaxToolResultBytes bounds the compacted envelope JSON placed
// into the chat history.
const DefaultMaxToolResultBytes = 8 * 1024

// Compactor produces the bounded chat-history copy of an envelope. The
// envelope handed to the API client is never touched; compaction always
// works on a copy.
type Compactor struct {
	maxBytes int
	bounds   PruneBounds
}

// NewCompactor creates a compactor with the given byte budget.
// Non-positive budgets fall back to the default.
func NewCompactor(maxBytes int) *Compactor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxToolResultBytes
	}
	return &Compactor{maxBytes: maxBytes, bounds: DefaultPruneBounds()}
}

// CompactForHistory renders the envelope as bounded JSON, applying in
// order: drop data, prune evidence, empty evidence if over budget, and
// finally fall back to a minimal envelope.
func (c *Compactor) CompactForHistory(env *models.Envelope) []byte {
	copied := *env
	copied.Data = nil
	copied.Compacted = true

	evidence := make([]any, 0, len(copied.Evidence))
	truncated := copied.Truncated
	for _, item := range env.Evidence {
		pruned, t := Prune(item, c.bounds)
		evidence = append(evidence, pruned)
		truncated = truncated || t
	}
	copied.Evidence = evidence
	copied.Truncated = truncated

	if payload, ok := c.marshalWithin(&copied); ok {
		return payload
	}

	copied.Evidence = []any{}
	copied.Truncated = true
	if payload, ok := c.marshalWithin(&copied); ok {
		return payload
	}

	return c.minimal(env)
}

// marshalWithin marshals the envelope and reports whether it fits the
// byte budget.
func (c *Compactor) marshalWithin(env *models.Envelope) ([]byte, bool) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, false
	}
	if len(payload) > c.maxBytes {
		return nil, false
	}
	return payload, true
}

// minimal is the last-resort shape kept when even an evidence-free
// envelope blows the budget.
func (c *Compactor) minimal(env *models.Envelope) []byte {
	message := env.Message
	if len(message) > 200 {
		message = message[:200]
	}
	payload, err := json.Marshal(map[string]any{
		"tool":      env.Tool,
		"ok":        env.OK,
		"message":   message,
		"compacted": true,
		"truncated": true,
		"note":      "max_bytes",
	})
	if err != nil {
		return []byte(`{"ok":false,"compacted":true,"truncated":true,"note":"max_bytes"}`)
	}
	return payload
}
