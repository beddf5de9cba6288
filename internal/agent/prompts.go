package agent

import (
	"fmt"
	"strings"
	"time"
)

// Placeholder marks a fact the writer could not find in the reports.
const Placeholder = "[DATA NEEDED]"

// DateLayout is how dates are written into instructions.
const DateLayout = "January 02, 2006"

// NoInternalData is what the internal-data role reports when the index has nothing.
const NoInternalData = "No internal annual report data available."

const internalDataInstruction = `You are an internal financial analyst for a corporate giving platform.

YOUR MISSION: Use the search_annual_reports tool to extract verified financial metrics,
cost-per-unit impact (for example "$10 provides a meal") and historical beneficiary
counts for the requested nonprofit. Run more than one query if the first finds little.

Return a structured INTERNAL REPORT containing:
- Specific dollar-to-impact ratios, if found
- Verified historical metrics, each with the report passage it came from
- If no data is found, state exactly: "` + NoInternalData + `"

Never invent figures. Report only what the tool returned.`

const researchInstruction = `You are an expert nonprofit research analyst for a corporate giving platform.

TODAY'S DATE: %[1]s
DATA CUTOFF : %[2]s. Discard any information published before this date.

YOUR MISSION
Research the specified nonprofit and extract concrete, quantitative impact data
published within the last %[3]d months only.

WHAT TO LOOK FOR (as many as the sources support)
  - Funds raised or disbursed (dollar amounts)
  - Number of beneficiaries reached
  - Programs, campaigns or initiatives launched or completed
  - Volunteer hours or employee-giving participation
  - Measurable environmental or social outcomes
  - Credible third-party recognition, partnerships or awards

%[4]s

STRICT RULES
  1. Every metric MUST include a source URL and publication date.
  2. If a source is older than %[2]s, omit it entirely.
  3. Do NOT invent, estimate or extrapolate figures.
  4. If no data within the window is found for a category, say so explicitly.

OUTPUT FORMAT
Return a RESEARCH REPORT with these sections:

## Organization
[Name]: [one-sentence mission statement]

## Verified Metrics (last %[3]d months)
- [Metric]: [value] | Source: [URL] | Date: [publication date]

## Recent News & Achievements
[Short paragraph of notable activities inside the window]

## Unverified / Insufficient Data
[Categories where no data could be found inside the window]`

const groundedStrategy = `SEARCH STRATEGY: run several targeted web searches, for example
  "[nonprofit name] %[1]d annual report impact results"
  "[nonprofit name] funds raised beneficiaries %[1]d"
  "[nonprofit name] new programs initiatives recent"`

const toolStrategy = `SEARCH STRATEGY: call the news tools with several targeted queries, for example
the nonprofit name alone, then combined with "impact", "funds raised" or "program".
The tools already drop items older than the cutoff; quote their URLs and dates as given.`

const synthesisInstruction = `You are an award-winning nonprofit copywriter whose work inspires corporate donors.

YOUR MISSION: Turn the RESEARCH REPORT and INTERNAL REPORT into one cohesive
two-paragraph impact story.

RULES
1. Use ONLY information from the reports you are given. You have no internet access.
2. DONOR MATH: mention the donor's specific contribution amount in the second paragraph.
   If the internal report gives a cost-per-unit, calculate the exact impact. If not,
   explain what that amount helps fund.
3. If a fact you need is missing, write %[1]s in its place. Never guess.

PARAGRAPH 1: THE HUMAN IMPACT
Focus on one specific community or event from the reports. Use two verified
statistics about it to show the scale of the need and the organization's response.

PARAGRAPH 2: FORWARD MOMENTUM AND THE DONOR
Name the donation amount. Connect the organization's momentum to what the
contribution makes possible next. End with a clear call to action.

STYLE
  - Warm, second-person, active voice.
  - No jargon and no passive constructions.
  - At most %[2]d words in total.

When you are given a rejected draft with factual errors and writing issues,
rewrite the story so that every listed problem is fixed.

OUTPUT: the story text only. No headers, labels or commentary.`

const validationInstruction = `You are an elite fact-checker. Evaluate the STORY DRAFT against the
INTERNAL REPORT and the RESEARCH REPORT.

PASS 1: FACTUAL ACCURACY
  Extract each factual claim in the story and look it up in the reports.
  Any claim the reports do not support is a factual error.
  A report section that explicitly says data is unavailable supports no claim;
  the absence itself is not an error.
  A leftover %[1]s placeholder is a factual error.

PASS 2: WRITING QUALITY
  Flag grammar errors, passive voice and stories longer than %[2]d words.
  Writing issues alone make the verdict REJECTED.

PASS 3: VERDICT
  APPROVED: every claim is supported and there are no writing issues.
  REJECTED: any unsupported claim or any writing issue.

Return only the JSON object:
  "status" is APPROVED or REJECTED
  "story" is the draft you checked, verbatim
  "factual_errors" lists every unsupported claim
  "writing_issues" lists every writing problem
  "facts_summary" is one sentence listing the key verified metrics used`

const orchestratorInstruction = `You coordinate the impact story pipeline.

  internal_data_agent: searches internal annual reports for financial metrics
  research_agent:      finds verified impact data from the last %[2]d months
  synthesis_agent:     writes the donor story from the reports only
  validation_agent:    fact-checks the story and returns a JSON verdict

WORKFLOW
  1. Gather the INTERNAL REPORT, then the RESEARCH REPORT (today is %[1]s).
  2. Draft the story from both reports.
  3. Validate the draft against both reports.
  4. While the verdict is REJECTED and fewer than %[3]d rewrites have been made,
     rewrite with both reports, the rejected draft and both error lists, then validate again.
  5. Emit the last validation JSON verbatim as the final message.`

// ResearchInstruction renders the research role's instruction.
func ResearchInstruction(today time.Time, windowMonths int, grounded bool) string {
	strategy := toolStrategy
	if grounded {
		strategy = fmt.Sprintf(groundedStrategy, today.Year())
	}
	return fmt.Sprintf(researchInstruction,
		today.Format(DateLayout), Cutoff(today, windowMonths).Format(DateLayout), windowMonths, strategy)
}

// Cutoff is the oldest publication date research may use.
func Cutoff(today time.Time, windowMonths int) time.Time {
	return today.AddDate(0, -windowMonths, 0)
}

// Reports are the gathered inputs shared by every writing and checking stage.
type Reports struct {
	Subject     string
	UserContext string
	Internal    string
	Research    string
}

func (r Reports) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "NONPROFIT: %s\n", r.Subject)
	if strings.TrimSpace(r.UserContext) != "" {
		fmt.Fprintf(&b, "USER CONTEXT: %s\n", r.UserContext)
	}
	fmt.Fprintf(&b, "\nINTERNAL REPORT:\n%s\n\nRESEARCH REPORT:\n%s", r.Internal, r.Research)
	return b.String()
}

// Revision carries a rejected draft back to the writer.
type Revision struct {
	Draft         string
	FactualErrors []string
	WritingIssues []string
}

// InternalDataInput is the request sent to the internal-data role.
func InternalDataInput(subject, userContext string) string {
	return fmt.Sprintf("Nonprofit: %s\nAdditional context: %s\n\nProduce the INTERNAL REPORT for this nonprofit.",
		subject, userContext)
}

// ResearchInput is the request sent to the research role.
func ResearchInput(subject, userContext string, today time.Time) string {
	return fmt.Sprintf("Nonprofit: %s\nToday's date: %s\nUser request: %s\n\nProduce the RESEARCH REPORT for this nonprofit.",
		subject, today.Format(DateLayout), userContext)
}

// SynthesisInput is the request sent to the synthesis role. rev is nil on
// the first attempt.
func SynthesisInput(r Reports, rev *Revision) string {
	var b strings.Builder
	b.WriteString(r.String())
	if rev == nil {
		b.WriteString("\n\nWrite the impact story.")
		return b.String()
	}
	fmt.Fprintf(&b, "\n\nREJECTED DRAFT:\n%s\n\nFACTUAL ERRORS:\n%s\n\nWRITING ISSUES:\n%s",
		rev.Draft, bullets(rev.FactualErrors), bullets(rev.WritingIssues))
	b.WriteString("\n\nRewrite the story so that every listed error and issue is fixed.")
	return b.String()
}

// ValidationInput is the request sent to the validation role.
func ValidationInput(r Reports, draft string) string {
	return fmt.Sprintf("%s\n\nSTORY DRAFT:\n%s\n\nReturn the verdict JSON.", r.String(), draft)
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "- none"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}
