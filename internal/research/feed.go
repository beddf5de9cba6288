// Package research provides the news tools the research role calls when
// grounded web search is not available.
package research

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

// Article is one news item inside the research window.
type Article struct {
	URL       string
	Title     string
	Published time.Time // zero when the source gives no date
	Snippet   string
	Source    string
}

// FeedSearcher queries an RSS/Atom search feed such as Google News. The URL
// template carries one %s for the escaped query.
type FeedSearcher struct {
	urlTemplate string
	maxItems    int
	parser      *gofeed.Parser
	logger      *zap.Logger
}

// NewFeedSearcher creates a feed searcher.
func NewFeedSearcher(urlTemplate string, maxItems int, timeout time.Duration, logger *zap.Logger) *FeedSearcher {
	if maxItems <= 0 {
		maxItems = 15
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = "ImpactStory/1.0 (nonprofit research)"
	return &FeedSearcher{urlTemplate: urlTemplate, maxItems: maxItems, parser: parser, logger: logger}
}

// Search returns items for query published on or after cutoff, newest
// first as the feed orders them.
func (f *FeedSearcher) Search(ctx context.Context, query string, cutoff time.Time) ([]Article, error) {
	feedURL := strings.Replace(f.urlTemplate, "%s", url.QueryEscape(query), 1)
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	source := feed.Title
	if source == "" {
		source = extractSourceName(feedURL)
	}

	var articles []Article
	for _, item := range feed.Items {
		if len(articles) >= f.maxItems {
			break
		}
		a, ok := parseItem(item, source)
		if !ok || !isWithinWindow(a.Published, cutoff) {
			continue
		}
		articles = append(articles, a)
	}

	f.logger.Debug("feed search",
		zap.String("query", query),
		zap.Int("items", len(feed.Items)),
		zap.Int("kept", len(articles)))
	return articles, nil
}

func parseItem(item *gofeed.Item, source string) (Article, bool) {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if itemURL == "" || title == "" {
		return Article{}, false
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	snippet := item.Description
	if item.Content != "" {
		snippet = item.Content
	}

	if len(item.Authors) > 0 && item.Authors[0] != nil && item.Authors[0].Name != "" {
		source = item.Authors[0].Name
	}

	return Article{
		URL:       itemURL,
		Title:     title,
		Published: published,
		Snippet:   plainText(snippet),
		Source:    source,
	}, true
}

// isWithinWindow reports whether published falls on or after cutoff.
// Undated items are dropped since their age cannot be shown.
func isWithinWindow(published, cutoff time.Time) bool {
	if published.IsZero() {
		return false
	}
	return !published.Before(cutoff)
}

// plainText strips markup from a feed snippet.
func plainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "news.", "blog.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	name := host
	if len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
