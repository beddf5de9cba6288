package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/ImpactStory/internal/database"
)

// minTextLen is the shortest extracted text worth indexing.
const minTextLen = 100

// Writer stores ingested documents.
type Writer interface {
	InsertDocument(ctx context.Context, doc database.Document, chunks []string) (int64, error)
}

// Outcome reports what happened to one ingested source.
type Outcome struct {
	Source     string
	Title      string
	DocumentID int64
	Chunks     int
	Err        error
}

// Ingester loads annual reports from URLs or local files into the index.
type Ingester struct {
	store       Writer
	client      *http.Client
	chunkWords  int
	concurrency int
	logger      *zap.Logger
}

// NewIngester creates an ingester. Zero values fall back to defaults.
func NewIngester(store Writer, chunkWords, concurrency int, timeout time.Duration, logger *zap.Logger) *Ingester {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		store: store,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		chunkWords:  chunkWords,
		concurrency: concurrency,
		logger:      logger,
	}
}

// IngestAll ingests every source for subject, at most concurrency at a time.
// A failing source is reported in its Outcome and does not stop the others;
// the returned error is only set when ctx ends first.
func (in *Ingester) IngestAll(ctx context.Context, subject string, sources []string) ([]Outcome, error) {
	outcomes := make([]Outcome, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)

	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = Outcome{Source: src, Err: err}
				return err
			}
			outcomes[i] = in.Ingest(gctx, subject, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

// Ingest loads one source and stores it under subject.
func (in *Ingester) Ingest(ctx context.Context, subject, source string) Outcome {
	out := Outcome{Source: source}

	title, text, err := in.load(ctx, source)
	if err != nil {
		out.Err = err
		in.logger.Warn("ingest failed", zap.String("source", source), zap.Error(err))
		return out
	}
	out.Title = title

	chunks := Split(text, in.chunkWords)
	id, err := in.store.InsertDocument(ctx, database.Document{
		Subject:   subject,
		Source:    source,
		Title:     title,
		WordCount: CountWords(text),
	}, chunks)
	if err != nil {
		out.Err = err
		in.logger.Warn("storing document failed", zap.String("source", source), zap.Error(err))
		return out
	}
	out.DocumentID = id
	out.Chunks = len(chunks)
	in.logger.Info("ingested document",
		zap.String("subject", subject),
		zap.String("source", source),
		zap.Int("chunks", len(chunks)))
	return out
}

func (in *Ingester) load(ctx context.Context, source string) (title, text string, err error) {
	if u, perr := url.Parse(source); perr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		body, err := in.fetch(ctx, source)
		if err != nil {
			return "", "", err
		}
		return extractHTML(body, u)
	}

	body, err := os.ReadFile(source)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", source, err)
	}
	switch strings.ToLower(filepath.Ext(source)) {
	case ".html", ".htm":
		abs, _ := filepath.Abs(source)
		return extractHTML(body, &url.URL{Scheme: "file", Path: abs})
	case ".txt", ".md", ".markdown", "":
		text = strings.TrimSpace(string(body))
		if len(text) < minTextLen {
			return "", "", fmt.Errorf("%s: too little text to index", source)
		}
		return strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)), text, nil
	default:
		return "", "", fmt.Errorf("%s: unsupported file type %q", source, filepath.Ext(source))
	}
}

func (in *Ingester) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "ImpactStory/1.0 (annual report indexer)")

	resp, err := in.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &httpError{code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// extractHTML pulls the readable text out of a page. When readability finds
// too little, the whole body text is used.
func extractHTML(body []byte, pageURL *url.URL) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parsing %s: %w", pageURL, err)
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = pageURL.String()
	}

	if article, rerr := readability.FromReader(bytes.NewReader(body), pageURL); rerr == nil {
		text = strings.TrimSpace(article.TextContent)
	}
	if len(text) < minTextLen {
		doc.Find("script, style, nav, header, footer").Remove()
		text = blockText(doc.Find("body"))
	}
	if len(text) < minTextLen {
		return "", "", fmt.Errorf("no extractable content from %s", pageURL)
	}
	return title, text, nil
}

// blockText returns the text of each block element as its own paragraph.
func blockText(sel *goquery.Selection) string {
	var paras []string
	sel.Find("p, li, h1, h2, h3, h4, td").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			paras = append(paras, t)
		}
	})
	if len(paras) == 0 {
		return strings.Join(strings.Fields(sel.Text()), " ")
	}
	return strings.Join(paras, "\n\n")
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}
