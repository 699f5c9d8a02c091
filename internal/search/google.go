// Package search queries the web search API that seeds the crawl.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/fetch"
	"github.com/alvmarrod/lead-weaver/internal/weburl"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultEndpoint is the Google Custom Search JSON API
const DefaultEndpoint = "https://customsearch.googleapis.com/customsearch/v1"

// DefaultQueryTemplate builds the query sent for each unit
const DefaultQueryTemplate = "{keyword} {region} contacto site:.es"

// The API never returns more than this many items per call
const maxPerCall = 10

// ErrQuotaRejected is returned when the API refuses the call for quota or key reasons
var ErrQuotaRejected = errors.New("search quota rejected by provider")

// Provider returns result URLs for a keyword in a region
type Provider interface {
	Search(ctx context.Context, keyword, region string) ([]string, error)
}

// Fetcher performs the HTTP call
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) *fetch.Page
}

// Config configures the Google provider
type Config struct {
	APIKey            string
	CX                string
	Endpoint          string
	QueryTemplate     string
	MaxResults        int
	RequestsPerMinute int
	DelayMin          time.Duration
	DelayMax          time.Duration
}

// Google queries the Custom Search JSON API
type Google struct {
	cfg     Config
	fetcher Fetcher
	limiter *rate.Limiter
}

type response struct {
	Items []struct {
		Link string `json:"link"`
	} `json:"items"`
}

// NewGoogle creates a provider. APIKey and CX are required.
func NewGoogle(cfg Config, fetcher Fetcher) (*Google, error) {
	if cfg.APIKey == "" || cfg.CX == "" {
		return nil, errors.New("search api_key and cx are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.QueryTemplate == "" {
		cfg.QueryTemplate = DefaultQueryTemplate
	}
	if cfg.MaxResults <= 0 || cfg.MaxResults > maxPerCall {
		cfg.MaxResults = maxPerCall
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &Google{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Query renders the query template for a unit
func (g *Google) Query(keyword, region string) string {
	return strings.NewReplacer("{keyword}", keyword, "{region}", region).Replace(g.cfg.QueryTemplate)
}

// Search runs one query and returns up to MaxResults filtered URLs.
// Every call, successful or not, is followed by the configured delay.
func (g *Google) Search(ctx context.Context, keyword, region string) ([]string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	defer g.pause(ctx)

	query := g.Query(keyword, region)
	logrus.Infof("Searching: '%s'", query)

	params := url.Values{}
	params.Set("key", g.cfg.APIKey)
	params.Set("cx", g.cfg.CX)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(maxPerCall))

	page := g.fetcher.Fetch(ctx, g.cfg.Endpoint+"?"+params.Encode())
	if page.Err != nil {
		return nil, fmt.Errorf("search %q: %w", query, page.Err)
	}

	switch {
	case page.Status == http.StatusTooManyRequests || page.Status == http.StatusForbidden:
		return nil, fmt.Errorf("search %q: status %d: %w", query, page.Status, ErrQuotaRejected)
	case !page.OK():
		return nil, fmt.Errorf("search %q: unexpected status %d", query, page.Status)
	}

	var resp response
	if err := json.Unmarshal([]byte(page.HTML), &resp); err != nil {
		return nil, fmt.Errorf("search %q: failed to decode response: %w", query, err)
	}

	links := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		links = append(links, item.Link)
	}
	urls := weburl.FilterResults(links, g.cfg.MaxResults)

	logrus.Infof("Found %d results for '%s' in '%s'", len(urls), keyword, region)
	return urls, nil
}

func (g *Google) pause(ctx context.Context) {
	d := g.cfg.DelayMin
	if g.cfg.DelayMax > g.cfg.DelayMin {
		d += rand.N(g.cfg.DelayMax - g.cfg.DelayMin)
	}
	if d <= 0 {
		return
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
