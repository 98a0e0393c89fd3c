package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const (
	UserAgent      = "Mozilla/5.0 (RaceRadarBot/1.0; +https://github.com/pfrederiksen/raceradar)"
	Timeout        = 25 * time.Second
	MaxBodyBytes   = 10 << 20
	maxRedirects   = 10
	acceptHeader   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "en;q=0.9,de;q=0.8,fr;q=0.7,it;q=0.6,es;q=0.5"
)

// Fetcher retrieves the visible text of a page
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Options configures a fetcher
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = Timeout
	}
	if o.UserAgent == "" {
		o.UserAgent = UserAgent
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = MaxBodyBytes
	}
	return o
}

// Scraper fetches registration pages over HTTP
type Scraper struct {
	client *http.Client
	opts   Options
}

// New creates a new Scraper instance
func New(opts Options) *Scraper {
	opts = opts.withDefaults()
	return &Scraper{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		opts: opts,
	}
}

// Fetch retrieves rawURL and returns its visible text.
// Any failure is a *FetchError; no partial text is returned alongside an error.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := validateURL(rawURL); err != nil {
		return "", &FetchError{URL: rawURL, Kind: KindInvalidURL, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{URL: rawURL, Kind: KindInvalidURL, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", classifyTransportError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{URL: rawURL, Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	body := io.LimitReader(resp.Body, s.opts.MaxBodyBytes)
	reader, err := charset.NewReader(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", classifyTransportError(rawURL, err)
	}

	text, err := ExtractText(reader)
	if err != nil {
		if ctx.Err() != nil {
			return "", classifyTransportError(rawURL, ctx.Err())
		}
		return "", &FetchError{URL: rawURL, Kind: KindParse, Err: err}
	}

	return text, nil
}

// ExtractText parses HTML and returns its visible text, one space between text nodes
func ExtractText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	doc.Find("script, style, noscript, template, svg").Remove()

	var parts []string
	for _, n := range doc.Nodes {
		collectText(n, &parts)
	}

	return strings.Join(parts, " "), nil
}

// collectText appends the whitespace-collapsed text nodes under n in document order
func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
			*parts = append(*parts, text)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

func validateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
