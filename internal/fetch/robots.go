package fetch

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// ErrBlockedByRobots reports a URL excluded by the site's robots.txt
var ErrBlockedByRobots = errors.New("blocked by robots.txt")

// RobotsPolicy answers whether a URL may be scraped, caching one robots.txt per host
type RobotsPolicy struct {
	fetcher *StaticFetcher
	agent   string

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
}

// NewRobotsPolicy creates a policy that downloads robots.txt through fetcher
func NewRobotsPolicy(fetcher *StaticFetcher, agent string) *RobotsPolicy {
	if agent == "" {
		agent = "*"
	}
	return &RobotsPolicy{
		fetcher: fetcher,
		agent:   agent,
		hosts:   make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether rawURL may be fetched. Any failure to obtain or
// parse robots.txt counts as allowed.
func (p *RobotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	robots := p.forHost(ctx, u)
	if robots == nil {
		return true
	}
	return robots.TestAgent(u.RequestURI(), p.agent)
}

func (p *RobotsPolicy) forHost(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	p.mu.Lock()
	robots, seen := p.hosts[key]
	p.mu.Unlock()
	if seen {
		return robots
	}

	page := p.fetcher.Fetch(ctx, key+"/robots.txt")
	if page.Err != nil {
		logrus.Warnf("Could not read robots.txt for %s: %v", u.Host, page.Err)
		// Not cached: a transient failure should not decide the whole run
		return nil
	}

	robots, err := robotstxt.FromStatusAndBytes(page.Status, []byte(page.HTML))
	if err != nil {
		logrus.Warnf("Invalid robots.txt for %s: %v", u.Host, err)
		robots = nil
	}

	p.mu.Lock()
	p.hosts[key] = robots
	p.mu.Unlock()
	return robots
}
