// Package webctx gathers supplementary context for an issue from the
// web. It is strictly best-effort: every failure degrades to an empty
// blob, never blocking verification.
package webctx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	searchEndpoint = "https://duckduckgo.com/html/?q="
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"
	maxBodyBytes   = 2 << 20
)

// Fetcher retrieves the raw HTML of a page. The default implementation
// is a plain HTTP client; a headless-browser fetcher handles JS-rendered
// sites.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// Provider searches the web for a query and scrapes the top results into
// one labelled context blob.
type Provider struct {
	client     *http.Client
	fetcher    Fetcher
	searchURL  string
	maxResults int
	minContent int
	logger     *zap.Logger
}

// Option adjusts a Provider.
type Option func(*Provider)

// WithSearchURL overrides the search endpoint, mainly for tests.
func WithSearchURL(u string) Option {
	return func(p *Provider) { p.searchURL = u }
}

// WithFetcher replaces the page fetcher.
func WithFetcher(f Fetcher) Option {
	return func(p *Provider) { p.fetcher = f }
}

// New creates a provider visiting at most maxResults pages and keeping
// only pages with at least minContent characters of text.
func New(maxResults, minContent int, logger *zap.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxResults <= 0 {
		maxResults = 3
	}
	if minContent <= 0 {
		minContent = 300
	}
	p := &Provider{
		client:     &http.Client{Timeout: 30 * time.Second},
		searchURL:  searchEndpoint,
		maxResults: maxResults,
		minContent: minContent,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fetcher == nil {
		p.fetcher = httpFetcher{client: p.client}
	}
	return p
}

// Investigate runs the query through the search engine, visits the top
// result links, and concatenates the usable page texts. An empty string
// with a nil error means nothing useful was found.
func (p *Provider) Investigate(ctx context.Context, query string) (string, error) {
	searchHTML, err := p.get(ctx, p.searchURL+url.QueryEscape(query))
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}

	var collected strings.Builder
	visited := 0
	for _, link := range parseSearchResults(searchHTML) {
		if visited >= p.maxResults {
			break
		}
		p.logger.Debug("visiting search result", zap.String("url", link))
		content, err := p.scrape(ctx, link)
		if err != nil {
			p.logger.Debug("scrape failed", zap.String("url", link), zap.Error(err))
			continue
		}
		if len(content) < p.minContent {
			continue
		}
		fmt.Fprintf(&collected, "--- Source: %s ---\n%s\n\n", link, content)
		visited++
	}
	return collected.String(), nil
}

func (p *Provider) get(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d from %s", resp.StatusCode, pageURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (p *Provider) scrape(ctx context.Context, pageURL string) (string, error) {
	raw, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return extractMainText(raw), nil
}

// httpFetcher is the default plain-HTTP page fetcher.
type httpFetcher struct {
	client *http.Client
}

func (f httpFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d from %s", resp.StatusCode, pageURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// parseSearchResults pulls result links out of the search engine's HTML
// page: anchors carrying the result class, minus the engine's own
// redirect and ad links.
func parseSearchResults(rawHTML string) []string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			if href := attr(n, "href"); href != "" && !strings.Contains(href, "duckduckgo.com") {
				links = append(links, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// extractMainText prefers semantic content containers, falling back to
// the whole body, and collapses whitespace.
func extractMainText(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	container := findFirst(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		switch n.Data {
		case "main", "article":
			return true
		}
		return hasClass(n, "post") || hasClass(n, "content") || hasClass(n, "entry-content")
	})
	if container == nil {
		container = findFirst(doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "body"
		})
	}
	if container == nil {
		return ""
	}

	var sb strings.Builder
	collectText(container, &sb)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	if match(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
