package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
)

// BrowserFetcher renders pages in headless Chrome before extracting text.
// One browser process is shared; each Fetch runs in its own tab.
type BrowserFetcher struct {
	opts Options

	mu            sync.Mutex
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

// NewBrowserFetcher starts a headless browser. Close must be called to stop it.
func NewBrowserFetcher(opts Options) (*BrowserFetcher, error) {
	opts = opts.withDefaults()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(opts.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run with no actions starts the browser so startup failures surface here
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	return &BrowserFetcher{
		opts:          opts,
		browserCtx:    browserCtx,
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
	}, nil
}

// Fetch navigates to rawURL, waits for the body, and returns the rendered visible text
func (b *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := validateURL(rawURL); err != nil {
		return "", &FetchError{URL: rawURL, Kind: KindInvalidURL, Err: err}
	}

	b.mu.Lock()
	parent := b.browserCtx
	b.mu.Unlock()
	if parent == nil {
		return "", &FetchError{URL: rawURL, Kind: KindNetwork, Err: fmt.Errorf("browser closed")}
	}

	tabCtx, cancelTab := chromedp.NewContext(parent)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.opts.Timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	var page string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err != nil {
		if tabCtx.Err() != nil {
			return "", classifyTransportError(rawURL, context.DeadlineExceeded)
		}
		return "", &FetchError{URL: rawURL, Kind: KindNetwork, Err: err}
	}

	text, err := ExtractText(strings.NewReader(page))
	if err != nil {
		return "", &FetchError{URL: rawURL, Kind: KindParse, Err: err}
	}
	return text, nil
}

// Close shuts down the browser
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx == nil {
		return nil
	}
	b.browserCancel()
	b.allocCancel()
	b.browserCtx = nil
	return nil
}
