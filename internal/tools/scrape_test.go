package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Release Notes</title><script>var secret = 1;</script></head>
<body>
  <h1>Version 2.0</h1>
  <h2>Highlights</h2>
  <p>Faster indexing and better defaults.</p>
  <a href="https://example.com/docs">Docs</a>
  <a href="/relative">Relative</a>
  <div id="changelog"><p>Fixed a crash on startup.</p></div>
</body>
</html>`

func runScrape(t *testing.T, input map[string]any, meta Meta) (Result, error) {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return NewWebScrapeTool().Execute(context.Background(), raw, meta)
}

func TestScrapeExtractsPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	res, err := runScrape(t, map[string]any{"urls": []string{srv.URL}}, Meta{ToolTimeoutSeconds: 5, MaxBytes: 10000})
	require.NoError(t, err)

	out := res.Payload.(scrapeOutput)
	require.Len(t, out.Pages, 1)
	page := out.Pages[0]
	assert.Equal(t, "Release Notes", page.Title)
	assert.Equal(t, []string{"Version 2.0", "Highlights"}, page.Headings)
	assert.Equal(t, []string{"https://example.com/docs"}, page.Links)
	assert.Contains(t, page.Text, "Faster indexing")
	assert.NotContains(t, page.Text, "var secret", "script content must be stripped")
	assert.Empty(t, page.Error)
}

func TestScrapeSelectorNarrowsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	res, err := runScrape(t, map[string]any{
		"urls": []string{srv.URL}, "selector": "#changelog",
	}, Meta{ToolTimeoutSeconds: 5, MaxBytes: 10000})
	require.NoError(t, err)

	page := res.Payload.(scrapeOutput).Pages[0]
	assert.Contains(t, page.Text, "Fixed a crash")
	assert.NotContains(t, page.Text, "Faster indexing")
}

func TestScrapeReportsPerPageErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	res, err := runScrape(t, map[string]any{
		"urls": []string{srv.URL + "/ok", srv.URL + "/missing"},
	}, Meta{ToolTimeoutSeconds: 5, MaxBytes: 10000})
	require.NoError(t, err)

	out := res.Payload.(scrapeOutput)
	require.Len(t, out.Pages, 2)
	assert.Empty(t, out.Pages[0].Error)
	assert.Contains(t, out.Pages[1].Error, "404")
	assert.Contains(t, res.Preview, "error")
}

func TestScrapeTruncatesLongText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><head><title>big</title></head><body><p>"))
		for i := 0; i < 2000; i++ {
			_, _ = w.Write([]byte("word "))
		}
		_, _ = w.Write([]byte("</p></body></html>"))
	}))
	defer srv.Close()

	res, err := runScrape(t, map[string]any{"urls": []string{srv.URL}}, Meta{ToolTimeoutSeconds: 5, MaxBytes: 500})
	require.NoError(t, err)

	page := res.Payload.(scrapeOutput).Pages[0]
	assert.True(t, page.Truncated)
	assert.LessOrEqual(t, len(page.Text), 500)
	assert.True(t, res.Truncated)
}

func TestScrapeInputValidation(t *testing.T) {
	_, err := runScrape(t, map[string]any{}, Meta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "urls")

	_, err = runScrape(t, map[string]any{"urls": []string{"file:///etc/passwd"}}, Meta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid url")

	urls := make([]string, 6)
	for i := range urls {
		urls[i] = "https://example.com"
	}
	_, err = runScrape(t, map[string]any{"urls": urls}, Meta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most")
}
