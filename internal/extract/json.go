package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// extractJSON returns every non-empty string value, one per line. Object keys are
// visited in sorted order so the output is stable.
func extractJSON(content []byte) (string, error) {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return "", fmt.Errorf("parse JSON: %w", err)
	}
	var lines []string
	collectStrings(v, &lines)
	return strings.Join(lines, "\n"), nil
}

func collectStrings(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			*out = append(*out, s)
		}
	case []any:
		for _, item := range t {
			collectStrings(item, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(t[k], out)
		}
	}
}
