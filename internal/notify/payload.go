package notify

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// stringifyValue renders a submission payload value for display:
// scalars as-is, arrays joined with commas, nested objects as JSON.
func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, stringifyValue(e))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// sortedKeys returns the payload's keys in a stable order so rendered
// notifications don't shuffle fields between submissions.
func sortedKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
