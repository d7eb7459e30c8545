package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// applyFilters canonicalizes the filters header against the tool's alias
// table. Keys resolve case-insensitively through FilterAliases onto
// FilterKeys; anything unresolvable drops with a warning instead of
// rejecting the call, so the planner can recover without a retry.
func (r *Registry) applyFilters(reg *Registration, raw json.RawMessage, intent *Intent) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var incoming map[string]any
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return nil, invalidf(argFilters, "filters must be a JSON object")
	}

	allowed := make(map[string]string, len(reg.FilterKeys))
	for _, key := range reg.FilterKeys {
		allowed[strings.ToLower(key)] = key
	}
	aliases := make(map[string]string, len(reg.FilterAliases))
	for alias, canonical := range reg.FilterAliases {
		aliases[strings.ToLower(alias)] = canonical
	}

	var warnings []string
	filters := make(map[string]string, len(incoming))
	for key, value := range incoming {
		canonical := key
		if mapped, ok := aliases[strings.ToLower(key)]; ok {
			canonical = mapped
		}
		resolved, ok := allowed[strings.ToLower(canonical)]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("filter %q is not recognized and was dropped", key))
			continue
		}
		filters[resolved] = stringifyFilterValue(value)
	}
	if len(filters) > 0 {
		intent.Filters = filters
	}
	return warnings, nil
}

func stringifyFilterValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		// JSON numbers decode as float64; render integers without a dot.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
