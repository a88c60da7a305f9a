package scrape

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/sells-group/research-crawler/internal/model"
	"github.com/sells-group/research-crawler/internal/resilience"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; ResearchCrawler/1.0)"

// LocalOptions configures a LocalScraper.
type LocalOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	// RatePerHost is the sustained requests per second allowed against any
	// single host. Zero disables limiting.
	RatePerHost float64
	Burst       int
	// Retry applies to transient failures within a single Scrape call. The
	// zero value makes one attempt.
	Retry resilience.RetryConfig
}

// LocalScraper fetches HTML via net/http, detects blocks, and converts the
// page body to Markdown while keeping anchors so the oracle can propose
// follow-up links.
type LocalScraper struct {
	client *http.Client
	opts   LocalOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalScraper creates a LocalScraper, filling unset options with defaults.
func NewLocalScraper(opts LocalOptions) *LocalScraper {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 2 << 20
	}
	if opts.Burst == 0 {
		opts.Burst = 1
	}
	return &LocalScraper{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

func (l *LocalScraper) limiterFor(host string) *rate.Limiter {
	if l.opts.RatePerHost <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.opts.RatePerHost), l.opts.Burst)
		l.limiters[host] = lim
	}
	return lim
}

// Scrape fetches a URL, rejects blocked or empty pages, and converts the
// body to Markdown.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*model.Page, error) {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("local_http: invalid url %q", targetURL)
	}

	retry := l.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(targetURL)
	}
	fetched, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*response, error) {
		return l.fetch(ctx, u.Host, targetURL)
	})
	if err != nil {
		return nil, err
	}
	resp, body := fetched.resp, fetched.body

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return nil, eris.Errorf("local_http: unsupported content type %q", ct)
	}

	reader, err := decodeBody(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: decode body")
	}

	page, err := parseHTML(reader)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: parse html")
	}
	if len(strings.TrimSpace(page.Markdown)) < 50 {
		return nil, eris.New("local_http: empty page")
	}

	page.URL = targetURL
	page.StatusCode = resp.StatusCode
	page.Source = l.Name()

	zap.L().Debug("local_http: scraped page",
		zap.String("url", targetURL),
		zap.Int("markdown_len", len(page.Markdown)),
		zap.Int("links", len(page.Links)),
	)
	return page, nil
}

type response struct {
	resp *http.Response
	body []byte
}

// fetch performs one GET. Status codes worth retrying come back as
// resilience.TransientError.
func (l *LocalScraper) fetch(ctx context.Context, host, targetURL string) (*response, error) {
	if lim := l.limiterFor(host); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "local_http: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.opts.MaxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", blockType)
	}

	if resp.StatusCode >= 400 {
		err := eris.Errorf("local_http: status %d", resp.StatusCode)
		if resilience.IsTransientStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	return &response{resp: resp, body: body}, nil
}

// decodeBody converts body to UTF-8 using the charset named in the
// Content-Type header. Unknown or missing charsets pass through unchanged.
func decodeBody(contentType string, body []byte) (io.Reader, error) {
	r := bytes.NewReader(body)
	if contentType == "" {
		return r, nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return r, nil
	}
	cs := strings.ToLower(params["charset"])
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		zap.L().Debug("local_http: unknown charset, using raw bytes", zap.String("charset", cs))
		return r, nil
	}
	return enc.NewDecoder().Reader(r), nil
}

// parseHTML extracts the title and anchors from an HTML document, strips
// chrome and scripts, and renders the rest as Markdown.
func parseHTML(r io.Reader) (*model.Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	links := extractLinks(doc)

	doc.Find("script, style, noscript, svg, iframe, template").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	html, err := goquery.OuterHtml(body)
	if err != nil {
		return nil, err
	}

	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return nil, eris.Wrap(err, "convert to markdown")
	}

	return &model.Page{
		Title:    title,
		Markdown: strings.TrimSpace(markdown),
		Links:    links,
	}, nil
}

// extractLinks returns the distinct href values of the document in document
// order. Hrefs are kept as written so site-relative links stay relative.
func extractLinks(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if skipHref(href) {
			return
		}
		if _, ok := seen[href]; ok {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})
	return links
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, p := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
