package fetch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Renderer returns the markup of a page after its scripts have run.
// Implementations own one browser instance, started lazily and released by Close.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
	Close() error
}

// BrowserConfig configures the headless browser renderers
type BrowserConfig struct {
	Engine    string // "chromedp" or "rod"
	Headless  bool
	Timeout   time.Duration
	ExecPath  string
	UserAgent string
	SettleMin time.Duration
	SettleMax time.Duration
}

func (c *BrowserConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgents[0]
	}
	if c.SettleMax < c.SettleMin {
		c.SettleMax = c.SettleMin
	}
}

// settle picks how long to let a freshly loaded page run its scripts
func (c *BrowserConfig) settle() time.Duration {
	if c.SettleMax <= c.SettleMin {
		return c.SettleMin
	}
	return c.SettleMin + rand.N(c.SettleMax-c.SettleMin)
}

// NewRenderer builds the renderer selected by cfg.Engine
func NewRenderer(cfg BrowserConfig) (Renderer, error) {
	cfg.defaults()
	switch cfg.Engine {
	case "", "chromedp":
		return NewChromeFetcher(cfg), nil
	case "rod":
		return NewRodFetcher(cfg), nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Engine)
	}
}

// sleepCtx waits for d unless ctx ends first
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
