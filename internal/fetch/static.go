// Package fetch retrieves page markup, either as served (StaticFetcher)
// or after script execution in a headless browser (ChromeFetcher, RodFetcher).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
}

// Page is the outcome of a fetch. Err is set when the request itself failed;
// a non-2xx answer is reported through Status only.
type Page struct {
	URL     string
	Status  int
	HTML    string
	Elapsed time.Duration
	Err     error
}

// OK reports whether the page was retrieved with a success status
func (p *Page) OK() bool {
	return p != nil && p.Err == nil && p.Status >= 200 && p.Status < 300
}

// StaticConfig configures a StaticFetcher
type StaticConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int
	UserAgents   []string
}

// StaticFetcher performs plain HTTP GETs through a colly collector
type StaticFetcher struct {
	cfg       StaticConfig
	collector *colly.Collector
}

// NewStaticFetcher creates a fetcher; each instance owns its HTTP client,
// so probes and full fetches can run with different timeouts
func NewStaticFetcher(cfg StaticConfig) *StaticFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 * 1024 * 1024
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(cfg.Timeout)
	// Non-2xx responses are data for the classifier, not errors
	c.ParseHTTPErrorResponse = true

	return &StaticFetcher{cfg: cfg, collector: c}
}

// Fetch retrieves rawURL synchronously. It never returns a nil page.
func (f *StaticFetcher) Fetch(ctx context.Context, rawURL string) *Page {
	page := &Page{URL: rawURL}
	start := time.Now()

	c := f.collector.Clone()
	c.Context = ctx

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", f.userAgent())
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "es-ES,es;q=0.8,en-US;q=0.5,en;q=0.3")
	})

	c.OnResponse(func(r *colly.Response) {
		page.Status = r.StatusCode
		page.HTML = string(r.Body)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			page.Status = r.StatusCode
		}
		page.Err = err
	})

	if err := c.Visit(rawURL); err != nil && page.Err == nil {
		page.Err = err
	}
	if page.Err == nil && page.Status == 0 {
		page.Err = errors.New("no response received")
	}
	if page.Err != nil {
		page.Err = fmt.Errorf("fetch %s: %w", rawURL, page.Err)
		logrus.Debugf("Static fetch failed: %v", page.Err)
	}

	page.Elapsed = time.Since(start)
	return page
}

func (f *StaticFetcher) userAgent() string {
	return f.cfg.UserAgents[rand.IntN(len(f.cfg.UserAgents))]
}
