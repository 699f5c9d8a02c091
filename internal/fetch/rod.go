package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"
)

// RodFetcher renders pages with go-rod, opening every page through the
// stealth helper so common automation fingerprints are masked
type RodFetcher struct {
	cfg BrowserConfig

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewRodFetcher creates a renderer; the browser launches on first use
func NewRodFetcher(cfg BrowserConfig) *RodFetcher {
	cfg.defaults()
	return &RodFetcher{cfg: cfg}
}

func (f *RodFetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(f.cfg.Headless).
		Set("disable-blink-features", "AutomationControlled")
	if f.cfg.ExecPath != "" {
		l = l.Bin(f.cfg.ExecPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	logrus.Info("Rod browser started")
	f.launcher = l
	f.browser = browser
	return browser, nil
}

// Render navigates to rawURL, lets scripts settle and returns the document markup
func (f *RodFetcher) Render(ctx context.Context, rawURL string) (string, error) {
	browser, err := f.connect()
	if err != nil {
		return "", err
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logrus.Debugf("Failed to close page for %s: %v", rawURL, cerr)
		}
	}()

	p := page.Context(ctx).Timeout(f.cfg.Timeout)
	if err := p.Navigate(rawURL); err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	if err := sleepCtx(ctx, f.cfg.settle()); err != nil {
		return "", err
	}

	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return html, nil
}

// Close shuts the browser down. It is safe to call when it never started.
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.launcher.Kill()
	f.browser = nil
	f.launcher = nil
	logrus.Info("Rod browser stopped")
	return err
}
