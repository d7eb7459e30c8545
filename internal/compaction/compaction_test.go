package compaction

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bindevz/tilsoftai/pkg/models"
)

func TestPruneStringCap(t *testing.T) {
	bounds := DefaultPruneBounds()
	long := strings.Repeat("x", 600)

	pruned, truncated := Prune(long, bounds)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if s := pruned.(string); len(s) != bounds.MaxStringLen {
		t.Fatalf("len = %d", len(s))
	}
}

func TestPruneArrayCap(t *testing.T) {
	arr := []any{1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0}
	pruned, truncated := Prune(arr, DefaultPruneBounds())
	if !truncated {
		t.Fatal("expected truncation")
	}
	if got := pruned.([]any); len(got) != 5 {
		t.Fatalf("len = %d", len(got))
	}
}

func TestPruneObjectCapAddsMarker(t *testing.T) {
	obj := make(map[string]any)
	for i := 0; i < 25; i++ {
		obj[string(rune('a'+i))] = float64(i)
	}
	pruned, truncated := Prune(obj, DefaultPruneBounds())
	if !truncated {
		t.Fatal("expected truncation")
	}
	got := pruned.(map[string]any)
	if got["truncated"] != true {
		t.Fatal("capped object should carry truncated marker")
	}
}

func TestPruneDepthCap(t *testing.T) {
	deep := map[string]any{
		"l1": map[string]any{
			"l2": map[string]any{
				"l3": map[string]any{"l4": "unreachable"},
			},
		},
	}
	pruned, truncated := Prune(deep, DefaultPruneBounds())
	if !truncated {
		t.Fatal("expected truncation")
	}
	l3 := pruned.(map[string]any)["l1"].(map[string]any)["l2"].(map[string]any)["l3"]
	if l3 != "[pruned]" {
		t.Fatalf("depth-capped value = %v", l3)
	}
}

func TestPruneNeverMutatesInput(t *testing.T) {
	obj := map[string]any{"s": strings.Repeat("y", 600), "arr": []any{1.0, 2.0}}
	Prune(obj, DefaultPruneBounds())
	if len(obj["s"].(string)) != 600 {
		t.Fatal("input string mutated")
	}
}

func historyEnvelope() *models.Envelope {
	return &models.Envelope{
		Kind:        models.EnvelopeKind,
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Tool:        models.EnvelopeTool{Name: "analytics.run"},
		OK:          true,
		Message:     "2 rows",
		Data:        map[string]any{"rows": []any{[]any{"A", 2.0}}},
		Meta:        models.EnvelopeMeta{TenantID: "t1", UserID: "u1"},
		Policy:      models.EnvelopePolicy{Decision: models.PolicyAllow, ReasonCode: models.CodeOK},
		Evidence:    []any{map[string]any{"summary": "2 groups"}},
	}
}

func TestCompactDropsDataKeepsIdentity(t *testing.T) {
	c := NewCompactor(DefaultMaxToolResultBytes)
	env := historyEnvelope()

	payload := c.CompactForHistory(env)

	var round map[string]any
	if err := json.Unmarshal(payload, &round); err != nil {
		t.Fatalf("compacted payload is not JSON: %v", err)
	}
	if _, hasData := round["data"]; hasData {
		t.Fatal("data must be dropped from the history copy")
	}
	tool := round["tool"].(map[string]any)
	if tool["name"] != "analytics.run" {
		t.Fatalf("tool = %v", tool)
	}
	if round["ok"] != true {
		t.Fatalf("ok = %v", round["ok"])
	}
	policy := round["policy"].(map[string]any)
	if policy["reasonCode"] != models.CodeOK {
		t.Fatalf("reasonCode = %v", policy["reasonCode"])
	}
	if round["compacted"] != true {
		t.Fatal("history copy must be marked compacted")
	}
}

func TestCompactNeverMutatesOriginal(t *testing.T) {
	c := NewCompactor(DefaultMaxToolResultBytes)
	env := historyEnvelope()

	c.CompactForHistory(env)

	if env.Data == nil {
		t.Fatal("original envelope data must survive compaction")
	}
	if env.Compacted || env.Truncated {
		t.Fatal("original envelope must not carry compaction markers")
	}
}

func TestCompactOverBudgetEmptiesEvidence(t *testing.T) {
	env := historyEnvelope()
	// Evidence that prunes cleanly but still dominates a small budget.
	env.Evidence = []any{map[string]any{"detail": strings.Repeat("z", 400)}}

	c := NewCompactor(600)
	payload := c.CompactForHistory(env)

	var round map[string]any
	if err := json.Unmarshal(payload, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if round["truncated"] != true {
		t.Fatal("over-budget envelope must be marked truncated")
	}
	if ev, ok := round["evidence"].([]any); ok && len(ev) > 0 {
		t.Fatalf("evidence should be emptied, got %v", ev)
	}
}

func TestCompactMinimalFallback(t *testing.T) {
	env := historyEnvelope()
	env.Message = strings.Repeat("m", 500)
	env.Warnings = []string{strings.Repeat("w", 400)}

	c := NewCompactor(120)
	payload := c.CompactForHistory(env)

	var round map[string]any
	if err := json.Unmarshal(payload, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if round["note"] != "max_bytes" {
		t.Fatalf("note = %v", round["note"])
	}
	if msg := round["message"].(string); len(msg) > 200 {
		t.Fatalf("message should cap at 200 chars, got %d", len(msg))
	}
	if round["compacted"] != true || round["truncated"] != true {
		t.Fatal("minimal envelope must carry both markers")
	}
	if _, hasPolicy := round["policy"]; hasPolicy {
		t.Fatal("minimal envelope keeps only the whitelisted fields")
	}
}
