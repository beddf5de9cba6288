package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TobiSchelling/ImpactStory/internal/llm"
)

// Status is the validation outcome.
type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

const rejectedWithoutReasons = "Validator rejected the draft without listing specific issues."

// Verdict is the validation stage's structured output.
type Verdict struct {
	Status        Status   `json:"status"`
	Story         string   `json:"story"`
	FactualErrors []string `json:"factual_errors"`
	WritingIssues []string `json:"writing_issues"`
	FactsSummary  string   `json:"facts_summary"`
}

// VerdictSchema is the output schema declared by the validation role.
func VerdictSchema() *llm.Schema {
	list := func(desc string) *llm.Schema {
		return &llm.Schema{Type: llm.TypeArray, Description: desc, Items: &llm.Schema{Type: llm.TypeString}}
	}
	return &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"status": {
				Type:        llm.TypeString,
				Description: "APPROVED only when there are no factual errors and no writing issues.",
				Enum:        []string{string(StatusApproved), string(StatusRejected)},
			},
			"story":          {Type: llm.TypeString, Description: "The story draft that was checked."},
			"factual_errors": list("Every claim not supported by the reports."),
			"writing_issues": list("Every grammar, voice or length problem."),
			"facts_summary":  {Type: llm.TypeString, Description: "One sentence listing the verified metrics used."},
		},
		Order: []string{"status", "story", "factual_errors", "writing_issues", "facts_summary"},
	}
}

// ParseVerdict repairs text and decodes it into a Verdict. The status must
// be APPROVED or REJECTED (case-insensitive).
func ParseVerdict(text string) (Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(llm.RepairJSON(text)), &v); err != nil {
		return Verdict{}, err
	}
	switch s := Status(strings.ToUpper(strings.TrimSpace(string(v.Status)))); s {
	case StatusApproved, StatusRejected:
		v.Status = s
	case "":
		return Verdict{}, fmt.Errorf("verdict has no status")
	default:
		return Verdict{}, fmt.Errorf("unknown verdict status %q", v.Status)
	}
	return v, nil
}

// Normalize enforces APPROVED if and only if both lists are empty. Blank
// list entries are dropped and nil lists become empty.
func (v Verdict) Normalize() Verdict {
	v.FactualErrors = compact(v.FactualErrors)
	v.WritingIssues = compact(v.WritingIssues)
	clean := len(v.FactualErrors) == 0 && len(v.WritingIssues) == 0
	switch {
	case v.Status == StatusApproved && !clean:
		v.Status = StatusRejected
	case v.Status != StatusApproved && clean:
		v.Status = StatusRejected
		v.WritingIssues = append(v.WritingIssues, rejectedWithoutReasons)
	}
	return v
}

// Approved reports whether the verdict passed.
func (v Verdict) Approved() bool { return v.Status == StatusApproved }

// CheckDraft applies the checks that need no model: leftover placeholders
// and the word limit.
func (v Verdict) CheckDraft(draft string, maxWords int) Verdict {
	if strings.Contains(draft, Placeholder) && !mentions(v.WritingIssues, Placeholder) && !mentions(v.FactualErrors, Placeholder) {
		v.FactualErrors = append(v.FactualErrors, fmt.Sprintf("The draft still contains the %s placeholder; the reports lack that data.", Placeholder))
	}
	if n := WordCount(draft); maxWords > 0 && n > maxWords {
		v.WritingIssues = append(v.WritingIssues, fmt.Sprintf("The story has %d words; the limit is %d.", n, maxWords))
	}
	return v
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func mentions(items []string, needle string) bool {
	for _, item := range items {
		if strings.Contains(item, needle) {
			return true
		}
	}
	return false
}
