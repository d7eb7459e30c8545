// Package compaction bounds the tool payloads that travel back into the
// chat history: a structural JSON pruner shared with the invoker's
// evidence fallback, and the envelope compactor applied to every
// history copy.
package compaction

import (
	"fmt"
	"sort"
)

// PruneBounds are the structural limits applied while pruning.
type PruneBounds struct {
	MaxDepth       int
	MaxArrayItems  int
	MaxObjectProps int
	MaxStringLen   int
}

// DefaultPruneBounds returns the limits used for evidence payloads.
func DefaultPruneBounds() PruneBounds {
	return PruneBounds{
		MaxDepth:       3,
		MaxArrayItems:  5,
		MaxObjectProps: 20,
		MaxStringLen:   512,
	}
}

// Prune returns a bounded deep copy of a JSON-shaped value and reports
// whether any limit fired. Objects that lose properties gain a
// "truncated": true marker; composites below the depth limit collapse
// to a placeholder string. The input is never mutated.
func Prune(v any, bounds PruneBounds) (any, bool) {
	return pruneValue(v, bounds, 1)
}

func pruneValue(v any, bounds PruneBounds, depth int) (any, bool) {
	switch val := v.(type) {
	case map[string]any:
		if depth > bounds.MaxDepth {
			return "[pruned]", true
		}
		return pruneObject(val, bounds, depth)
	case []any:
		if depth > bounds.MaxDepth {
			return "[pruned]", true
		}
		return pruneArray(val, bounds, depth)
	case string:
		if len(val) > bounds.MaxStringLen {
			return val[:bounds.MaxStringLen], true
		}
		return val, false
	case nil, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return val, false
	default:
		// Non-JSON values stringify so the copy always marshals.
		s := fmt.Sprint(val)
		if len(s) > bounds.MaxStringLen {
			return s[:bounds.MaxStringLen], true
		}
		return s, false
	}
}

func pruneObject(obj map[string]any, bounds PruneBounds, depth int) (any, bool) {
	// Keys sort so that capping keeps a deterministic subset.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	truncated := false
	if len(keys) > bounds.MaxObjectProps {
		keys = keys[:bounds.MaxObjectProps]
		truncated = true
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		pruned, t := pruneValue(obj[k], bounds, depth+1)
		out[k] = pruned
		truncated = truncated || t
	}
	if len(obj) > bounds.MaxObjectProps {
		out["truncated"] = true
	}
	return out, truncated
}

func pruneArray(arr []any, bounds PruneBounds, depth int) (any, bool) {
	truncated := false
	n := len(arr)
	if n > bounds.MaxArrayItems {
		n = bounds.MaxArrayItems
		truncated = true
	}
	out := make([]any, 0, n)
	for _, item := range arr[:n] {
		pruned, t := pruneValue(item, bounds, depth+1)
		out = append(out, pruned)
		truncated = truncated || t
	}
	return out, truncated
}
