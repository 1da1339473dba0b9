package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"toolhub/internal/util"
)

const (
	scrapeMaxURLs       = 5
	scrapeMaxLinks      = 40
	scrapeFetchParallel = 3
)

// WebScrapeTool fetches pages and extracts their title, headings, links,
// and visible text.
type WebScrapeTool struct {
	client *retryablehttp.Client
}

// NewWebScrapeTool constructs a scrape tool.
func NewWebScrapeTool() *WebScrapeTool {
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.Logger = nil
	return &WebScrapeTool{client: client}
}

func (t *WebScrapeTool) Name() string { return "web_scrape" }

func (t *WebScrapeTool) Description() string {
	return "Fetches one or more web pages and extracts title, headings, links, and visible text."
}

func (t *WebScrapeTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"urls": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
				"maxItems": scrapeMaxURLs,
			},
			"selector": map[string]any{"type": "string"},
		},
		"required":             []string{"urls"},
		"additionalProperties": false,
	}
}

type scrapeInput struct {
	URLs     []string `json:"urls"`
	Selector string   `json:"selector"`
}

type scrapedPage struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Headings  []string `json:"headings,omitempty"`
	Links     []string `json:"links,omitempty"`
	Text      string   `json:"text"`
	Truncated bool     `json:"truncated"`
	Error     string   `json:"error,omitempty"`
}

type scrapeOutput struct {
	Pages      []scrapedPage `json:"pages"`
	DurationMs int64         `json:"duration_ms"`
}

func (t *WebScrapeTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	var args scrapeInput
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{}, err
	}
	if len(args.URLs) == 0 {
		return Result{}, errors.New("urls is required")
	}
	if len(args.URLs) > scrapeMaxURLs {
		return Result{}, fmt.Errorf("at most %d urls per call", scrapeMaxURLs)
	}
	for _, raw := range args.URLs {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return Result{}, fmt.Errorf("invalid url %q", raw)
		}
	}

	timeout := time.Duration(meta.ToolTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	perPageBytes := meta.MaxBytes
	if perPageBytes <= 0 {
		perPageBytes = 30 * 1024
	}
	if len(args.URLs) > 1 {
		perPageBytes /= len(args.URLs)
	}

	start := time.Now()
	pages := make([]scrapedPage, len(args.URLs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(scrapeFetchParallel)
	for i, pageURL := range args.URLs {
		group.Go(func() error {
			page := t.fetch(groupCtx, pageURL, args.Selector, perPageBytes)
			pages[i] = page
			return nil
		})
	}
	// Fetch errors are reported per page, so the group never fails.
	_ = group.Wait()

	output := scrapeOutput{Pages: pages, DurationMs: time.Since(start).Milliseconds()}
	truncated := false
	byteCount := 0
	var previewParts []string
	for _, page := range pages {
		truncated = truncated || page.Truncated
		byteCount += len(page.Text)
		if page.Error != "" {
			previewParts = append(previewParts, fmt.Sprintf("%s: error: %s", page.URL, page.Error))
		} else {
			previewParts = append(previewParts, fmt.Sprintf("%s: %s", page.URL, page.Title))
		}
	}
	preview := util.Preview(strings.Join(previewParts, "\n"), 12, 2000)
	return Result{
		ToolName:   t.Name(),
		Payload:    output,
		Preview:    preview,
		LineCount:  len(previewParts),
		ByteCount:  byteCount,
		Truncated:  truncated,
		DurationMs: output.DurationMs,
	}, nil
}

func (t *WebScrapeTool) fetch(ctx context.Context, pageURL, selector string, maxBytes int) scrapedPage {
	page := scrapedPage{URL: pageURL}

	request, err := retryablehttp.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		page.Error = err.Error()
		return page
	}
	request.Header.Set("User-Agent", "toolhub-scraper/1.0")

	resp, err := t.client.Do(request)
	if err != nil {
		page.Error = err.Error()
		return page
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		page.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return page
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		page.Error = err.Error()
		return page
	}

	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("h1, h2, h3").Each(func(_ int, sel *goquery.Selection) {
		heading := strings.TrimSpace(sel.Text())
		if heading != "" && len(page.Headings) < 20 {
			page.Headings = append(page.Headings, heading)
		}
	})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if strings.HasPrefix(href, "http") && len(page.Links) < scrapeMaxLinks {
			page.Links = append(page.Links, href)
		}
	})

	target := doc.Find("body")
	if selector != "" {
		if found := doc.Find(selector); found.Length() > 0 {
			target = found
		}
	}
	target.Find("script, style, noscript").Remove()
	text := collapseWhitespace(target.Text())
	text = util.RedactSecrets(text)
	if trimmed, did := util.TruncateBytes(text, maxBytes); did {
		text = trimmed
		page.Truncated = true
	}
	page.Text = text
	return page
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
