package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultNewsAPIURL is the NewsAPI "everything" endpoint.
const DefaultNewsAPIURL = "https://newsapi.org/v2/everything"

// NewsAPIClient searches NewsAPI.
type NewsAPIClient struct {
	apiKey   string
	baseURL  string
	pageSize int
	client   *http.Client
	logger   *zap.Logger
}

// NewNewsAPIClient creates a NewsAPI client. An empty baseURL uses
// DefaultNewsAPIURL.
func NewNewsAPIClient(apiKey, baseURL string, pageSize int, logger *zap.Logger) *NewsAPIClient {
	if baseURL == "" {
		baseURL = DefaultNewsAPIURL
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NewsAPIClient{
		apiKey:   apiKey,
		baseURL:  baseURL,
		pageSize: pageSize,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search returns articles matching query published between cutoff and now.
func (c *NewsAPIClient) Search(ctx context.Context, query string, cutoff, now time.Time) ([]Article, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("NewsAPI key is not set")
	}

	params := url.Values{
		"q":        {query},
		"from":     {cutoff.Format("2006-01-02")},
		"to":       {now.Format("2006-01-02")},
		"language": {"en"},
		"pageSize": {strconv.Itoa(c.pageSize)},
		"sortBy":   {"relevancy"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NewsAPI request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status   string `json:"status"`
		Code     string `json:"code"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Content     string `json:"content"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("NewsAPI HTTP %d: decoding response: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || result.Status != "ok" {
		return nil, fmt.Errorf("NewsAPI HTTP %d: %s %s", resp.StatusCode, result.Code, result.Message)
	}

	var articles []Article
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var published time.Time
		if a.PublishedAt != "" {
			if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
				published = t
			}
		}
		if !isWithinWindow(published, cutoff) {
			continue
		}

		snippet := a.Description
		if snippet == "" {
			snippet = a.Content
		}

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		articles = append(articles, Article{
			URL:       a.URL,
			Title:     strings.TrimSpace(a.Title),
			Published: published,
			Snippet:   plainText(snippet),
			Source:    source,
		})
	}

	c.logger.Debug("NewsAPI search", zap.String("query", query), zap.Int("articles", len(articles)))
	return articles, nil
}
