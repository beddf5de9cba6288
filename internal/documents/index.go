// Package documents ingests annual reports into the local index and serves
// them to the internal-data role as the search_annual_reports tool.
package documents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/agent"
	"github.com/TobiSchelling/ImpactStory/internal/database"
	"github.com/TobiSchelling/ImpactStory/internal/llm"
)

// Tool output sentinels. The model reads these verbatim.
const (
	NotConfigured = "ERROR: the annual report index is not configured. Run 'impactstory ingest' to add reports."
	NoResults     = "No annual report data found."
	ReportLabel   = "[Annual Report]: "
)

// ToolName is the function name the internal-data role calls.
const ToolName = "search_annual_reports"

// Searcher reads from the chunk index.
type Searcher interface {
	SearchChunks(ctx context.Context, subject, text string, limit int) ([]database.Hit, error)
	Neighbours(ctx context.Context, documentID int64, seq, radius int) ([]database.Chunk, error)
}

// Index answers annual report queries for one subject at a time.
type Index struct {
	store      Searcher
	maxResults int
	logger     *zap.Logger
}

// NewIndex creates an index over store. A nil store yields an index that
// always answers NotConfigured.
func NewIndex(store Searcher, maxResults int, logger *zap.Logger) *Index {
	if maxResults <= 0 {
		maxResults = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{store: store, maxResults: maxResults, logger: logger}
}

// SearchDocuments returns up to maxResults passages for subject matching
// query, each with its neighbouring chunks. It never fails: problems come
// back as text.
func (x *Index) SearchDocuments(ctx context.Context, subject, query string) string {
	if x.store == nil {
		return NotConfigured
	}

	hits, err := x.store.SearchChunks(ctx, subject, query, x.maxResults)
	if err != nil {
		x.logger.Warn("annual report search failed", zap.String("subject", subject), zap.Error(err))
		return "Database error: " + err.Error()
	}

	var b strings.Builder
	for _, h := range hits {
		content := h.Content
		near, err := x.store.Neighbours(ctx, h.DocumentID, h.Seq, 1)
		if err != nil {
			x.logger.Debug("neighbour lookup failed", zap.Int64("document", h.DocumentID), zap.Error(err))
		} else {
			content = withNeighbours(h.Chunk, near)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		b.WriteString(ReportLabel)
		b.WriteString(content)
		b.WriteString("\n")
	}

	x.logger.Debug("annual report search",
		zap.String("subject", subject),
		zap.String("query", query),
		zap.Int("hits", len(hits)))

	if b.Len() == 0 {
		return NoResults
	}
	return b.String()
}

// Tool exposes SearchDocuments as the search_annual_reports function.
func (x *Index) Tool() agent.Tool {
	return agent.ToolFunc{
		Decl: llm.FunctionDecl{
			Name: ToolName,
			Description: "USE THIS TOOL FIRST. Searches the nonprofit's official annual reports. " +
				"Use it to find verified financial metrics, cost-per-unit figures and historical " +
				"beneficiary counts before any web search.",
			Params: []llm.Param{
				{Name: "nonprofit_name", Description: "Name of the nonprofit organization."},
				{Name: "query", Description: "What to look for, e.g. 'cost per meal' or 'people served'."},
			},
		},
		Fn: func(ctx context.Context, args map[string]any) string {
			return x.SearchDocuments(ctx, agent.StringArg(args, "nonprofit_name"), agent.StringArg(args, "query"))
		},
	}
}

// withNeighbours joins hit with the chunks around it in reading order.
func withNeighbours(hit database.Chunk, near []database.Chunk) string {
	parts := make([]string, 0, len(near)+1)
	placed := false
	for _, c := range near {
		if !placed && c.Seq > hit.Seq {
			parts = append(parts, hit.Content)
			placed = true
		}
		parts = append(parts, c.Content)
	}
	if !placed {
		parts = append(parts, hit.Content)
	}
	return strings.Join(parts, "\n")
}
