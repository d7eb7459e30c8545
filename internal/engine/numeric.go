package engine

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
)

// Numeric coercion for aggregate sources. The double path accepts
// doubles, floats, decimals, ints, and longs; the decimal path accepts
// the same set but accumulates exactly. Strings parse with invariant
// culture. Unparseable values are skipped, never raised.

// asDouble coerces a cell to float64 for the double accumulator path.
func asDouble(v any) (float64, bool) {
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case *big.Rat:
		f, _ := val.Float64()
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// asRat coerces a cell to an exact rational for the decimal accumulator
// path.
func asRat(v any) (*big.Rat, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case *big.Rat:
		return new(big.Rat).Set(val), true
	case string:
		r, ok := new(big.Rat).SetString(strings.TrimSpace(val))
		if !ok {
			return nil, false
		}
		return r, true
	case json.Number:
		r, ok := new(big.Rat).SetString(val.String())
		if !ok {
			return nil, false
		}
		return r, true
	case float64:
		return new(big.Rat).SetFloat64(val), true
	case float32:
		return new(big.Rat).SetFloat64(float64(val)), true
	case int:
		return new(big.Rat).SetInt64(int64(val)), true
	case int32:
		return new(big.Rat).SetInt64(int64(val)), true
	case int64:
		return new(big.Rat).SetInt64(val), true
	default:
		return nil, false
	}
}

// ratString renders an exact rational as a decimal string with up to ten
// fractional digits, trimming trailing zeros.
func ratString(r *big.Rat) string {
	if r == nil {
		return ""
	}
	if r.IsInt() {
		return r.Num().String()
	}
	s := r.FloatString(10)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
