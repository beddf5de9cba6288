// Package compose renders pipeline results for people: a plain text
// report, Markdown, terminal-styled Markdown and HTML.
package compose

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/ImpactStory/internal/pipeline"
)

// TextWidth is the wrap width of the plain text report.
const TextWidth = 65

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Text renders res as a fixed-width report.
func Text(res *pipeline.Result) string {
	bar := strings.Repeat("=", TextWidth+2)
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", bar)
	fmt.Fprintf(&b, "  FINAL STATUS : %s\n", res.Status)
	fmt.Fprintf(&b, "  ORGANIZATION : %s\n", res.OrgID)
	fmt.Fprintf(&b, "  FACTS USED   : %s\n", orNone(res.FactsSummary))
	fmt.Fprintf(&b, "  ELAPSED      : %.1fs\n", res.TotalElapsed)
	fmt.Fprintf(&b, "%s\n", bar)

	section(&b, "IMPACT STORY")
	b.WriteString(indent.String(wordwrap.String(strings.TrimSpace(res.Story), TextWidth), 2))
	b.WriteString("\n")

	if len(res.FactualErrors) > 0 {
		section(&b, "FACTUAL ERRORS")
		for _, e := range res.FactualErrors {
			fmt.Fprintf(&b, "  x  %s\n", e)
		}
	}
	if len(res.WritingIssues) > 0 {
		section(&b, "WRITING ISSUES")
		for _, w := range res.WritingIssues {
			fmt.Fprintf(&b, "  ~  %s\n", w)
		}
	}
	if len(res.Steps) > 0 {
		section(&b, "PIPELINE")
		for _, s := range res.Steps {
			fmt.Fprintf(&b, "  %-18s %s\n", s.Name, s.Summary)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", bar)
	return b.String()
}

func section(b *strings.Builder, title string) {
	rule := strings.Repeat("-", max(TextWidth-len(title)-4, 3))
	fmt.Fprintf(b, "\n  -- %s %s\n\n", title, rule)
}

// Markdown renders res as a Markdown document.
func Markdown(res *pipeline.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Impact story: %s\n\n", res.OrgID)
	fmt.Fprintf(&b, "**Status:** %s  \n", res.Status)
	fmt.Fprintf(&b, "**Facts used:** %s\n\n", orNone(res.FactsSummary))
	fmt.Fprintf(&b, "%s\n", strings.TrimSpace(res.Story))

	list(&b, "Factual errors", res.FactualErrors)
	list(&b, "Writing issues", res.WritingIssues)

	if len(res.Steps) > 0 {
		b.WriteString("\n## Pipeline\n\n| Step | Output |\n|---|---|\n")
		for _, s := range res.Steps {
			fmt.Fprintf(&b, "| %s | %s |\n", s.Name, strings.ReplaceAll(s.Summary, "|", `\|`))
		}
	}
	return b.String()
}

func list(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

// HTML renders res as a standalone HTML page.
func HTML(res *pipeline.Result) (string, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(res)), &body); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Impact story: %s</title>
</head>
<body>
<article class="impact-story status-%s">
%s</article>
</body>
</html>
`, html.EscapeString(res.OrgID), strings.ToLower(html.EscapeString(res.Status)), body.String()), nil
}

// Terminal renders the Markdown form for a terminal. Styled output adapts
// to the terminal background; unstyled output is plain ASCII.
func Terminal(res *pipeline.Result, width int, styled bool) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if styled {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(styles.NoTTYStyle))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("creating renderer: %w", err)
	}
	return r.Render(Markdown(res))
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
