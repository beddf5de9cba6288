package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &out), "not an object: %q", s)
	return out
}

func TestRepairJSONPlain(t *testing.T) {
	out := RepairJSON(`{"status": "APPROVED", "story": "s"}`)
	assert.Equal(t, "APPROVED", decode(t, out)["status"])
}

func TestRepairJSONCodeFence(t *testing.T) {
	for _, raw := range []string{
		"```json\n{\"status\": \"APPROVED\"}\n```",
		"```\n{\"status\": \"APPROVED\"}\n```",
		"```json{\"status\": \"APPROVED\"}```",
	} {
		out := RepairJSON(raw)
		assert.Equal(t, "APPROVED", decode(t, out)["status"], raw)
	}
}

func TestRepairJSONSurroundingProse(t *testing.T) {
	raw := "Here is the final verdict:\n{\"status\": \"REJECTED\", \"factual_errors\": [\"x\"]}\nLet me know if you need more."
	out := RepairJSON(raw)
	got := decode(t, out)
	assert.Equal(t, "REJECTED", got["status"])
	assert.Equal(t, []any{"x"}, got["factual_errors"])
}

func TestRepairJSONInvalidQuoteEscape(t *testing.T) {
	raw := `{"status": "APPROVED", "story": "The shelter\'s doors stayed open."}`
	out := RepairJSON(raw)
	assert.Equal(t, "The shelter's doors stayed open.", decode(t, out)["story"])
}

func TestRepairJSONSingleKeyWrapper(t *testing.T) {
	raw := `{"validation_agent_response": {"status": "APPROVED", "story": "s", "factual_errors": [], "writing_issues": [], "facts_summary": "f"}}`
	got := decode(t, RepairJSON(raw))
	assert.Equal(t, "APPROVED", got["status"])
	assert.Equal(t, "f", got["facts_summary"])
	assert.NotContains(t, got, "validation_agent_response")
}

func TestRepairJSONWrapperWithoutStatusKept(t *testing.T) {
	raw := `{"result": {"story": "s"}}`
	got := decode(t, RepairJSON(raw))
	assert.Contains(t, got, "result")
}

func TestRepairJSONFencedWrapper(t *testing.T) {
	raw := "```json\n{\"result\":{\"status\":\"APPROVED\",\"story\":\"...\",\"factual_errors\":[],\"writing_issues\":[],\"facts_summary\":\"...\"}}\n```"
	got := decode(t, RepairJSON(raw))
	assert.Equal(t, "APPROVED", got["status"])
	assert.Equal(t, "...", got["story"])
}

func TestRepairJSONUnrecoverable(t *testing.T) {
	for _, raw := range []string{
		"",
		"The story could not be validated.",
		"{not json at all}",
		"  leading space and no braces  ",
	} {
		assert.Equal(t, raw, RepairJSON(raw))
	}
}

func TestRepairJSONIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain prose",
		`{"status": "APPROVED"}`,
		"  {\"status\": \"APPROVED\"}  ",
		"```json\n{\"status\": \"APPROVED\"}\n```",
		"prefix {\"a\": 1} suffix",
		`{"a": "it\'s"}`,
		`{"w": {"status": "REJECTED"}}`,
		`{"a": {"b": {"status": "REJECTED"}}}`,
		`{"status": {"status": "x"}}`,
		"{broken",
		"} backwards {",
		"```\nnot json\n```",
		"{\"story\": \"contains a fence ``` inside\"}",
		"two {\"a\":1} objects {\"b\":2}",
	}
	for _, in := range inputs {
		once := RepairJSON(in)
		assert.Equal(t, once, RepairJSON(once), "input %q", in)
	}
}
