// Package documents turns source material supplied to a recipe (web pages
// and PDF uploads) into plain text a model can summarise.
package documents

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultTimeout bounds a single page fetch.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is sent with every page fetch.
const DefaultUserAgent = "Mozilla/5.0 (compatible; RecipeEngine/1.0)"

const maxPageBytes = 5 << 20

// Article is the readable content of one web page.
type Article struct {
	URL   string
	Title string
	Text  string
}

// Error reports a failure to fetch or parse a source document.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("document %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("document %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Fetcher downloads pages and extracts their article text.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewFetcher creates a Fetcher with the default timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: DefaultTimeout}, UserAgent: DefaultUserAgent}
}

// FetchArticle downloads rawURL and extracts its main text.
func (f *Fetcher) FetchArticle(ctx context.Context, rawURL string) (*Article, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, &Error{URL: rawURL, Message: "invalid URL", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{URL: rawURL, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "failed to read response body", Cause: err}
	}

	article, err := ExtractArticle(string(body))
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "failed to parse HTML", Cause: err}
	}
	article.URL = rawURL
	return article, nil
}

var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	".post-content",
	".article-body",
	".content",
	"#content",
}

// ExtractArticle pulls the title and main body text out of an HTML page.
// Navigation and scripts are dropped; when no content container matches the
// whole body is used.
func ExtractArticle(html string) (*Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("nav, footer, header, aside, script, style, noscript, form, .ad, .advertisement, .sidebar, .cookie-banner").Remove()

	var main *goquery.Selection
	for _, sel := range contentSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			main = s.First()
			break
		}
	}
	if main == nil {
		main = doc.Find("body")
	}

	var paragraphs []string
	main.Find("h1, h2, h3, p, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		if t := CleanWhitespace(s.Text()); t != "" {
			paragraphs = append(paragraphs, t)
		}
	})
	text := strings.Join(paragraphs, "\n\n")
	if text == "" {
		text = CleanWhitespace(main.Text())
	}
	return &Article{Title: title, Text: text}, nil
}

var spaceRun = regexp.MustCompile(`\s+`)

// CleanWhitespace collapses runs of whitespace into single spaces.
func CleanWhitespace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
