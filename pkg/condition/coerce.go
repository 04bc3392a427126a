package condition

import (
	"fmt"
	"strconv"
	"strings"
)

func truthy(value any) bool {
	if value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case float32:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// looselyEqual compares a stored value against a condition literal, coercing
// across the bool/number/string representations JSON snapshots and UI widgets
// produce for the same logical value.
func looselyEqual(got, want any) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	if b, ok := want.(bool); ok {
		gotBool, _ := coerceBool(got)
		return gotBool == b
	}
	if wantNum, ok := coerceNumber(want); ok {
		if gotNum, ok := coerceNumber(got); ok {
			return gotNum == wantNum
		}
	}
	return coerceString(got) == coerceString(want)
}

func contains(got, want any) bool {
	switch v := got.(type) {
	case string:
		return strings.Contains(v, coerceString(want))
	case []any:
		for _, item := range v {
			if looselyEqual(item, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func coerceBool(value any) (bool, bool) {
	if value == nil {
		return false, false
	}
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			return parsed, true
		}
		return strings.TrimSpace(v) != "", true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	case float64:
		return v != 0, true
	default:
		return truthy(value), true
	}
}

func coerceNumber(value any) (float64, bool) {
	if value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceString(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(value)
	}
}
