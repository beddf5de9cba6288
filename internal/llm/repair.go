package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencePattern  = regexp.MustCompile("```(?:json)?\\s*")
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// RepairJSON turns model output into a JSON object string where it can.
//
// It strips markdown code fences, extracts the outermost {...} block,
// replaces invalid \' escapes and unwraps single-key wrappers whose value
// is an object with a "status" field. Each step runs only while the
// candidate is still invalid. If no step yields an object, raw is returned
// unchanged. RepairJSON(RepairJSON(x)) == RepairJSON(x).
func RepairJSON(raw string) string {
	candidate := strings.TrimSpace(raw)
	if !isObject(candidate) {
		text := strings.TrimSpace(fencePattern.ReplaceAllString(candidate, ""))
		candidate = objectPattern.FindString(text)
		if candidate == "" {
			return raw
		}
		if !isObject(candidate) {
			candidate = strings.ReplaceAll(candidate, `\'`, `'`)
		}
		if !isObject(candidate) {
			return raw
		}
	}
	return unwrapStatus(candidate)
}

func isObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &obj) == nil
}

// unwrapStatus descends through {"key": {...}} wrappers until it reaches an
// object that is not such a wrapper.
func unwrapStatus(s string) string {
	for {
		var outer map[string]json.RawMessage
		if err := json.Unmarshal([]byte(s), &outer); err != nil || len(outer) != 1 {
			return s
		}
		var inner json.RawMessage
		for _, v := range outer {
			inner = v
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(inner, &fields); err != nil {
			return s
		}
		if _, ok := fields["status"]; !ok {
			return s
		}
		s = strings.TrimSpace(string(inner))
	}
}
