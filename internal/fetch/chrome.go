package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// ChromeFetcher renders pages with a single headless Chrome driven by chromedp.
// Every Render opens a fresh tab in the shared browser.
type ChromeFetcher struct {
	cfg BrowserConfig

	mu            sync.Mutex
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
}

// NewChromeFetcher creates a renderer; Chrome starts on first use
func NewChromeFetcher(cfg BrowserConfig) *ChromeFetcher {
	cfg.defaults()
	return &ChromeFetcher{cfg: cfg}
}

func (f *ChromeFetcher) browser() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browserCtx != nil {
		return f.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(f.cfg.UserAgent),
		chromedp.WindowSize(1366, 768),
	)
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// An empty Run launches the browser
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	logrus.Info("Headless Chrome started")
	f.browserCtx = browserCtx
	f.cancelAlloc = cancelAlloc
	f.cancelBrowser = cancelBrowser
	return browserCtx, nil
}

// Render navigates to rawURL, lets scripts settle and returns the document markup
func (f *ChromeFetcher) Render(ctx context.Context, rawURL string) (string, error) {
	browserCtx, err := f.browser()
	if err != nil {
		return "", err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.cfg.Timeout)
	defer cancelTimeout()

	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	var html string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.settle()),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return html, nil
}

// Close shuts the browser down. It is safe to call when Chrome never started.
func (f *ChromeFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browserCtx == nil {
		return nil
	}
	f.cancelBrowser()
	f.cancelAlloc()
	f.browserCtx = nil
	logrus.Info("Headless Chrome stopped")
	return nil
}
