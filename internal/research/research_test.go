package research

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Search results</title>
<link>https://news.example.com</link>
<description>feed</description>
<item>
  <title>Food bank serves record 1.2M meals</title>
  <link>https://news.example.com/a</link>
  <pubDate>Mon, 02 Feb 2026 10:00:00 GMT</pubDate>
  <description>&lt;p&gt;The &lt;b&gt;food bank&lt;/b&gt; served a record number of meals.&lt;/p&gt;</description>
</item>
<item>
  <title>Old story</title>
  <link>https://news.example.com/old</link>
  <pubDate>Mon, 03 Jan 2022 10:00:00 GMT</pubDate>
  <description>Too old.</description>
</item>
<item>
  <title>Undated volunteer drive</title>
  <guid>https://news.example.com/undated</guid>
  <description>Volunteers gathered.</description>
</item>
<item>
  <title></title>
  <link>https://news.example.com/untitled</link>
</item>
</channel></rss>`

func feedServer(t *testing.T, gotQuery *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotQuery != nil {
			*gotQuery = r.URL.Query().Get("q")
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFeedSearch(t *testing.T) {
	var q string
	srv := feedServer(t, &q)
	fs := NewFeedSearcher(srv.URL+"/rss?q=%s&hl=en", 10, 0, nil)

	articles, err := fs.Search(context.Background(), "Food Bank & Co", today.AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "Food Bank & Co", q)

	require.Len(t, articles, 1, "stale, undated and untitled items are dropped")
	assert.Equal(t, "https://news.example.com/a", articles[0].URL)
	assert.Equal(t, "The food bank served a record number of meals.", articles[0].Snippet)
	assert.Equal(t, "Search results", articles[0].Source)
	assert.Equal(t, 2026, articles[0].Published.Year())
}

func TestIsWithinWindow(t *testing.T) {
	cutoff := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, isWithinWindow(cutoff, cutoff))
	assert.True(t, isWithinWindow(cutoff.AddDate(0, 1, 0), cutoff))
	assert.False(t, isWithinWindow(cutoff.AddDate(0, 0, -1), cutoff))
	assert.False(t, isWithinWindow(time.Time{}, cutoff))
}

func TestFeedSearchMaxItems(t *testing.T) {
	srv := feedServer(t, nil)
	fs := NewFeedSearcher(srv.URL+"/rss?q=%s", 1, 0, nil)

	articles, err := fs.Search(context.Background(), "x", today.AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.Len(t, articles, 1)
}

func TestFeedSearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewFeedSearcher(srv.URL+"?q=%s", 5, 0, nil).Search(context.Background(), "x", today)
	assert.Error(t, err)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "a b", plainText("  a \n b "))
	assert.Equal(t, "Hello world & more", plainText("<p>Hello <i>world</i> &amp; more</p>"))
	assert.Equal(t, "", plainText(""))
}

func TestExtractSourceName(t *testing.T) {
	assert.Equal(t, "Google", extractSourceName("https://news.google.com/rss/search?q=x"))
	assert.Equal(t, "Example", extractSourceName("https://www.example.org/feed"))
	assert.Equal(t, "Localhost", extractSourceName("http://localhost:8080/rss"))
}

func TestNewsAPISearch(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","articles":[
			{"url":"https://a.example/1","title":" Charity opens clinic ","publishedAt":"2026-01-10T08:00:00Z","description":"Clinic <b>opened</b>.","source":{"name":"Daily"}},
			{"url":"https://removed.com","title":"[Removed]"},
			{"url":"https://a.example/2","title":"Stale","publishedAt":"2024-01-10T08:00:00Z"},
			{"url":"https://a.example/3","title":"No source","publishedAt":"2026-02-01T08:00:00Z","content":"Body text"},
			{"url":"https://a.example/4","title":"Undated","description":"No date given."}
		]}`)
	}))
	defer srv.Close()

	c := NewNewsAPIClient("secret", srv.URL, 0, nil)
	require.True(t, c.IsConfigured())

	cutoff := today.AddDate(-1, 0, 0)
	articles, err := c.Search(context.Background(), "Charity", cutoff, today)
	require.NoError(t, err)

	assert.Equal(t, "secret", got.Header.Get("X-Api-Key"))
	assert.Equal(t, "2025-03-15", got.URL.Query().Get("from"))
	assert.Equal(t, "2026-03-15", got.URL.Query().Get("to"))
	assert.Equal(t, "Charity", got.URL.Query().Get("q"))
	assert.Equal(t, "20", got.URL.Query().Get("pageSize"))

	require.Len(t, articles, 2)
	assert.Equal(t, "Charity opens clinic", articles[0].Title)
	assert.Equal(t, "Clinic opened.", articles[0].Snippet)
	assert.Equal(t, "Daily", articles[0].Source)
	assert.Equal(t, "NewsAPI", articles[1].Source)
	assert.Equal(t, "Body text", articles[1].Snippet)
}

func TestNewsAPIErrors(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		c := NewNewsAPIClient("", "", 0, nil)
		assert.False(t, c.IsConfigured())
		_, err := c.Search(context.Background(), "x", today, today)
		assert.Error(t, err)
	})
	t.Run("api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"status":"error","code":"apiKeyInvalid","message":"Your API key is invalid."}`)
		}))
		defer srv.Close()

		_, err := NewNewsAPIClient("bad", srv.URL, 0, nil).Search(context.Background(), "x", today, today)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Contains(t, err.Error(), "apiKeyInvalid")
	})
}

func TestFormat(t *testing.T) {
	assert.Equal(t, NoArticles, Format(nil))
	assert.Equal(t, NoArticles, Format([]Article{{URL: "https://x/0", Title: "Undated"}}))

	out := Format([]Article{
		{URL: "https://x/1", Title: "One", Source: "S", Published: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), Snippet: "snip"},
		{URL: "https://x/0", Title: "Undated", Source: "U"},
		{URL: "https://x/2", Title: "Two", Source: "T", Published: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Snippet: strings.Repeat("é", snippetRunes+5)},
	})
	assert.Contains(t, out, "1. One\n   Source: S | Date: February 02, 2026\n   URL: https://x/1\n   snip\n")
	assert.Contains(t, out, "2. Two\n   Source: T | Date: March 01, 2026\n")
	assert.NotContains(t, out, "Undated")
	assert.Contains(t, out, strings.Repeat("é", snippetRunes)+"...")
}

func TestToolset(t *testing.T) {
	var gotQuery string
	var gotCutoff time.Time
	feed := SearchFunc(func(_ context.Context, q string, cutoff time.Time) ([]Article, error) {
		gotQuery, gotCutoff = q, cutoff
		return []Article{{URL: "https://x", Title: "T", Source: "S", Published: today.AddDate(0, -1, 0)}}, nil
	})

	ts := Toolset{Feed: feed, NewsAPI: NewNewsAPIClient("", "", 0, nil), WindowMonths: 6, Now: func() time.Time { return today }}
	tools := ts.Tools()
	require.Len(t, tools, 1, "unconfigured NewsAPI adds no tool")
	assert.Equal(t, FeedToolName, tools[0].Declaration().Name)

	out := tools[0].Call(context.Background(), map[string]any{"nonprofit_name": "Org", "query": "impact"})
	assert.Contains(t, out, "URL: https://x")
	assert.Equal(t, "Org impact", gotQuery)
	assert.Equal(t, today.AddDate(0, -6, 0), gotCutoff)

	assert.Equal(t, "ERROR: nonprofit_name is required.", tools[0].Call(context.Background(), map[string]any{}))
}

func TestToolsetSearchError(t *testing.T) {
	feed := SearchFunc(func(context.Context, string, time.Time) ([]Article, error) {
		return nil, errors.New("timeout")
	})
	tools := Toolset{Feed: feed, WindowMonths: 12}.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "Search error: timeout", tools[0].Call(context.Background(), map[string]any{"nonprofit_name": "Org"}))
}

func TestToolsetWithNewsAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","articles":[]}`)
	}))
	defer srv.Close()

	ts := Toolset{NewsAPI: NewNewsAPIClient("k", srv.URL, 0, nil), WindowMonths: 12, Now: func() time.Time { return today }}
	tools := ts.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, NewsAPIToolName, tools[0].Declaration().Name)
	assert.Equal(t, NoArticles, tools[0].Call(context.Background(), map[string]any{"nonprofit_name": "Org"}))
}
