package extract

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const defaultFetchTimeout = 10 * time.Second

// WebExtractor fetches a web page and extracts its readable text. Fetches
// are rate-limited so batch ingestion cannot hammer one host, and every
// request carries an explicit timeout so a slow server fails the extraction
// stage instead of stalling the batch window.
type WebExtractor struct {
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// WebConfig configures the web extractor. RateLimit is requests per second.
type WebConfig struct {
	RateLimit float64
	Timeout   time.Duration
	Client    *http.Client
}

func NewWebExtractor(cfg WebConfig) *WebExtractor {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &WebExtractor{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		timeout: cfg.Timeout,
	}
}

func (e *WebExtractor) SourceType() string { return "url" }

func (e *WebExtractor) Extract(ctx context.Context, in Input, opts Options) (Result, error) {
	pageURL, err := url.Parse(in.Source)
	if err != nil || pageURL.Scheme == "" || pageURL.Host == "" {
		return Result{}, fmt.Errorf("invalid url %q", in.Source)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit wait: %w", err)
	}

	if opts.RespectRobots {
		allowed, err := e.robotsAllowed(ctx, pageURL)
		if err == nil && !allowed {
			return Result{}, fmt.Errorf("robots.txt disallows %s", pageURL.Path)
		}
	}

	doc, err := e.fetchDocument(ctx, pageURL.String())
	if err != nil {
		return Result{}, err
	}

	// Strip non-content elements before collecting text.
	doc.Find("script, style, nav, footer, header, aside, noscript").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	author, _ := doc.Find(`meta[name="author"]`).Attr("content")

	var publishedAt time.Time
	if raw, ok := doc.Find(`meta[property="article:published_time"]`).Attr("content"); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			publishedAt = t
		}
	}

	// Prefer the article body when present, fall back to the whole body.
	container := doc.Find("article").First()
	if container.Length() == 0 {
		container = doc.Find("body").First()
	}
	text := normalizeWhitespace(container.Text())
	if text == "" {
		return Result{}, fmt.Errorf("no readable text at %s", in.Source)
	}

	return Result{
		Text:        text,
		Title:       title,
		Author:      strings.TrimSpace(author),
		PublishedAt: publishedAt,
		Metadata:    map[string]string{"host": pageURL.Host},
	}, nil
}

func (e *WebExtractor) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "sage/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s: status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return doc, nil
}

// robotsAllowed checks the target host's robots.txt Disallow rules for the
// wildcard user-agent. Unreachable or malformed robots.txt counts as
// allowed.
func (e *WebExtractor) robotsAllowed(ctx context.Context, pageURL *url.URL) (bool, error) {
	robotsURL := pageURL.Scheme + "://" + pageURL.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return true, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return true, nil
	}

	applies := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "user-agent:"):
			agent := strings.TrimSpace(line[len("user-agent:"):])
			applies = agent == "*"
		case applies && strings.HasPrefix(lower, "disallow:"):
			prefix := strings.TrimSpace(line[len("disallow:"):])
			if prefix != "" && strings.HasPrefix(pageURL.Path, prefix) {
				return false, nil
			}
		}
	}
	return true, scanner.Err()
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
