package event

import (
	"encoding/json"
	"strconv"
	"strings"
)

// lookupString walks a decoded JSON record using a dot-notation path and
// returns the value as a string. Strings are returned as-is, numbers in
// their shortest decimal form. Anything else, or a missing key, yields "".
func lookupString(data any, path string) string {
	current := data

	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = obj[part]
		if !ok {
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// setPath writes value at a dot-notation path, creating or replacing
// intermediate objects as needed.
func setPath(record map[string]any, path string, value string) {
	parts := strings.Split(path, ".")
	current := record

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// copyRecord deep-copies the object and array structure of a record.
// Scalar values are shared.
func copyRecord(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyRecord(t)
	case []any:
		cp := make([]any, len(t))
		for i, item := range t {
			cp[i] = copyValue(item)
		}
		return cp
	default:
		return v
	}
}
