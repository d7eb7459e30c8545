package tools

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ValidationError reports an argument shape, type, or range violation.
// Field names the offending argument.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Reserved top-level argument names handled by the shared header.
const (
	argFilters  = "filters"
	argPage     = "page"
	argPageSize = "pageSize"
)

// Validate checks raw tool-call arguments against the tool's declaration
// and produces a normalized intent. Unknown top-level arguments reject;
// unknown filter keys drop to warnings. Missing optional arguments take
// their declared default; paging clamps to the tool's policy.
func (r *Registry) Validate(name string, raw json.RawMessage) (*Intent, []string, error) {
	reg, ok := r.Get(name)
	if !ok {
		return nil, nil, invalidf("tool", "unknown tool %q", name)
	}

	top := map[string]json.RawMessage{}
	if len(raw) > 0 && strings.TrimSpace(string(raw)) != "" {
		if err := json.Unmarshal(raw, &top); err != nil {
			return nil, nil, invalidf("arguments", "arguments must be a JSON object: %v", err)
		}
	}

	declared := make(map[string]ArgSpec, len(reg.Args))
	for _, spec := range reg.Args {
		declared[spec.Name] = spec
	}
	for key := range top {
		if key == argFilters || key == argPage || key == argPageSize {
			continue
		}
		if _, ok := declared[key]; !ok {
			return nil, nil, invalidf(key, "argument is not allowed for tool %q", name)
		}
	}

	intent := &Intent{Tool: name, Args: make(map[string]any, len(reg.Args))}

	warnings, err := r.applyFilters(reg, top[argFilters], intent)
	if err != nil {
		return nil, nil, err
	}

	for _, spec := range reg.Args {
		rawVal, present := top[spec.Name]
		if !present || string(rawVal) == "null" {
			if spec.Required {
				return nil, nil, invalidf(spec.Name, "required argument is missing")
			}
			if spec.Default != nil {
				intent.Args[spec.Name] = spec.Default
			}
			continue
		}
		val, err := coerceArg(spec, rawVal)
		if err != nil {
			return nil, nil, err
		}
		intent.Args[spec.Name] = val
	}

	if err := applyPaging(reg.Paging, top, intent); err != nil {
		return nil, nil, err
	}

	return intent, warnings, nil
}

func coerceArg(spec ArgSpec, raw json.RawMessage) (any, error) {
	switch spec.Type {
	case ArgString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalidf(spec.Name, "expected string")
		}
		return s, nil

	case ArgInt:
		n, err := parseFlexibleInt(raw)
		if err != nil {
			return nil, invalidf(spec.Name, "expected integer")
		}
		if spec.MinInt != nil && n < *spec.MinInt {
			return nil, invalidf(spec.Name, "must be >= %d", *spec.MinInt)
		}
		if spec.MaxInt != nil && n > *spec.MaxInt {
			return nil, invalidf(spec.Name, "must be <= %d", *spec.MaxInt)
		}
		return n, nil

	case ArgBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b, nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if parsed, err := strconv.ParseBool(strings.ToLower(s)); err == nil {
				return parsed, nil
			}
		}
		return nil, invalidf(spec.Name, "expected boolean")

	case ArgGUID:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalidf(spec.Name, "expected guid string")
		}
		if _, err := uuid.Parse(s); err != nil {
			return nil, invalidf(spec.Name, "not a valid guid")
		}
		return s, nil

	case ArgDecimal:
		s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
		r, ok := new(big.Rat).SetString(s)
		if !ok {
			return nil, invalidf(spec.Name, "expected decimal")
		}
		// Canonical decimal form, so equal values hash equally downstream.
		if r.IsInt() {
			return r.Num().String(), nil
		}
		return strings.TrimRight(strings.TrimRight(r.FloatString(10), "0"), "."), nil

	case ArgJSON:
		if !json.Valid(raw) {
			return nil, invalidf(spec.Name, "expected valid JSON")
		}
		return json.RawMessage(append([]byte(nil), raw...)), nil

	case ArgStringMap:
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, invalidf(spec.Name, "expected an object of strings")
		}
		return m, nil

	default:
		return nil, invalidf(spec.Name, "unsupported argument type %q", spec.Type)
	}
}

// parseFlexibleInt accepts both number and numeric-string encodings.
func parseFlexibleInt(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	n := int(f)
	if float64(n) != f {
		return 0, fmt.Errorf("not an integer")
	}
	return n, nil
}

func applyPaging(p Paging, top map[string]json.RawMessage, intent *Intent) error {
	if !p.Supports {
		intent.Page = 1
		intent.PageSize = 0
		return nil
	}

	page := p.DefaultPage
	if page < 1 {
		page = 1
	}
	if raw, ok := top[argPage]; ok {
		n, err := parseFlexibleInt(raw)
		if err != nil {
			return invalidf(argPage, "expected integer")
		}
		page = n
	}
	if page < 1 {
		page = 1
	}

	size := p.DefaultPageSize
	if raw, ok := top[argPageSize]; ok {
		n, err := parseFlexibleInt(raw)
		if err != nil {
			return invalidf(argPageSize, "expected integer")
		}
		size = n
	}
	if size < 1 {
		size = 1
	}
	if p.MaxPageSize > 0 && size > p.MaxPageSize {
		size = p.MaxPageSize
	}

	intent.Page = page
	intent.PageSize = size
	return nil
}
