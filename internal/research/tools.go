package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/agent"
	"github.com/TobiSchelling/ImpactStory/internal/llm"
)

// Tool names bound to the research role.
const (
	FeedToolName    = "search_recent_news"
	NewsAPIToolName = "search_news_api"
)

// NoArticles is returned when a search finds nothing inside the window.
const NoArticles = "No news articles found within the research window."

// snippetRunes bounds each article's snippet in tool output.
const snippetRunes = 400

// Searcher finds articles for a query published on or after cutoff.
type Searcher interface {
	Search(ctx context.Context, query string, cutoff time.Time) ([]Article, error)
}

// SearchFunc adapts a function to Searcher.
type SearchFunc func(ctx context.Context, query string, cutoff time.Time) ([]Article, error)

func (f SearchFunc) Search(ctx context.Context, query string, cutoff time.Time) ([]Article, error) {
	return f(ctx, query, cutoff)
}

// Toolset builds the research role's tools over the configured sources.
type Toolset struct {
	Feed         Searcher
	NewsAPI      *NewsAPIClient
	WindowMonths int
	Now          func() time.Time
	Logger       *zap.Logger
}

// Tools returns one tool per configured source.
func (ts Toolset) Tools() []agent.Tool {
	var tools []agent.Tool
	if ts.Feed != nil {
		tools = append(tools, ts.tool(FeedToolName,
			"Searches a news feed for recent articles about the nonprofit. Results carry URL and publication date.",
			ts.Feed))
	}
	if ts.NewsAPI != nil && ts.NewsAPI.IsConfigured() {
		tools = append(tools, ts.tool(NewsAPIToolName,
			"Searches NewsAPI for recent articles about the nonprofit. Results carry URL and publication date.",
			SearchFunc(func(ctx context.Context, query string, cutoff time.Time) ([]Article, error) {
				return ts.NewsAPI.Search(ctx, query, cutoff, ts.now())
			})))
	}
	return tools
}

func (ts Toolset) now() time.Time {
	if ts.Now != nil {
		return ts.Now()
	}
	return time.Now()
}

func (ts Toolset) tool(name, description string, s Searcher) agent.Tool {
	logger := ts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return agent.ToolFunc{
		Decl: llm.FunctionDecl{
			Name:        name,
			Description: description,
			Params: []llm.Param{
				{Name: "nonprofit_name", Description: "Name of the nonprofit organization."},
				{Name: "query", Description: "Extra search terms, e.g. 'funds raised' or 'new program'. May be empty."},
			},
		},
		Fn: func(ctx context.Context, args map[string]any) string {
			query := strings.TrimSpace(agent.StringArg(args, "nonprofit_name") + " " + agent.StringArg(args, "query"))
			if query == "" {
				return "ERROR: nonprofit_name is required."
			}
			cutoff := agent.Cutoff(ts.now(), ts.WindowMonths)
			articles, err := s.Search(ctx, query, cutoff)
			if err != nil {
				logger.Warn("news search failed", zap.String("tool", name), zap.Error(err))
				return "Search error: " + err.Error()
			}
			return Format(articles)
		},
	}
}

// Format renders dated articles for the model, one block per article.
// Undated articles are left out.
func Format(articles []Article) string {
	var b strings.Builder
	n := 0
	for _, a := range articles {
		if a.Published.IsZero() {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s\n   Source: %s | Date: %s\n   URL: %s\n", n, a.Title, a.Source, a.Published.Format(agent.DateLayout), a.URL)
		if s := truncate(a.Snippet, snippetRunes); s != "" {
			fmt.Fprintf(&b, "   %s\n", s)
		}
	}
	if n == 0 {
		return NoArticles
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
