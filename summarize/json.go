package summarize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// jsonObjectRE locates the outermost brace-delimited span in free text.
var jsonObjectRE = regexp.MustCompile(`\{[\s\S]*\}`)

// extractJSON decodes a JSON object embedded in free text into out. It
// returns false when no decodable object is present; callers fall back to
// treating the whole text as unstructured.
func extractJSON(text string, out any) bool {
	m := jsonObjectRE.FindString(text)
	if m == "" {
		return false
	}
	return json.Unmarshal([]byte(m), out) == nil
}

// capList drops blank entries and caps the list length.
func capList(in []string, limit int) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
		if len(out) >= limit {
			break
		}
	}
	return out
}
