package engine

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// unitSep joins composite key parts. An ASCII unit separator cannot
// appear in printable cell values, so keys never collide.
const unitSep = "\u001f"

// formatCell stringifies a cell with invariant formatting. Nil cells
// stringify to the empty string; comparisons throughout the engine run
// over these stringified values.
func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *big.Rat:
		return ratString(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// compositeKey builds a group/join key from the ordered stringified
// parts.
func compositeKey(parts []string) string {
	return strings.Join(parts, unitSep)
}

// keyForColumns extracts a composite key for one row over the given
// column indexes.
func keyForColumns(row []any, idx []int) string {
	parts := make([]string, len(idx))
	for i, c := range idx {
		parts[i] = formatCell(row[c])
	}
	return compositeKey(parts)
}
