// Package classify decides whether a page has to be rendered in a browser
// before its contact details become visible.
package classify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/lead-weaver/internal/contact"
	"github.com/alvmarrod/lead-weaver/internal/fetch"
	"github.com/alvmarrod/lead-weaver/internal/weburl"
	"github.com/sirupsen/logrus"
)

// DefaultDynamicDomains are directories and social sites known to hide
// contact data behind scripts
var DefaultDynamicDomains = []string{
	"infoempresa.com", "facebook.com", "instagram.com", "linkedin.com",
	"twitter.com", "einforma.com", "empresite.eleconomista.es",
	"guiaempresas.universia.es", "expansion.com", "axesor.es",
}

// Markup fragments left by client-side frameworks, SPA routers and
// contact obfuscation scripts (matched against lowercased HTML)
var scriptSignatures = []string{
	"__next_data__", "/_next/static/", "window.__nuxt__", "data-reactroot",
	"ng-version=", "ng-app", "data-v-app", "data-server-rendered",
	"ember-application", "svelte-",
	"router-view", "router-link", "ng-view", "data-route",
	"document.write(", "protected-email", "protected-content", "unveil(",
	"email-protection",
}

// Elements whose contact value is encoded in attributes or replaced by a placeholder
const protectionSelector = "[data-email], [data-tel], [data-cfemail], .__cf_email__, .contact-email, .contact-phone"

// Prober fetches the static markup of a URL
type Prober interface {
	Fetch(ctx context.Context, rawURL string) *fetch.Page
}

// Config tunes the heuristics
type Config struct {
	DynamicDomains []string
	LargePageBytes int
}

// Verdict is the outcome of classifying one URL. Probe holds the static
// fetch when one was made, so a static extractor can reuse it.
type Verdict struct {
	Dynamic bool
	Reason  string
	Probe   *fetch.Page
}

// Classifier applies the decision rules in order; the first rule that fires wins
type Classifier struct {
	cfg    Config
	prober Prober
}

// New creates a Classifier
func New(cfg Config, prober Prober) *Classifier {
	if cfg.DynamicDomains == nil {
		cfg.DynamicDomains = DefaultDynamicDomains
	}
	if cfg.LargePageBytes <= 0 {
		cfg.LargePageBytes = 10000
	}
	return &Classifier{cfg: cfg, prober: prober}
}

// Classify reports whether rawURL needs the dynamic extractor. Any failure
// while probing resolves to dynamic.
func (c *Classifier) Classify(ctx context.Context, rawURL string) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Warnf("Probe of %s panicked, using dynamic extraction: %v", rawURL, r)
			v = Verdict{Dynamic: true, Reason: fmt.Sprintf("probe panic: %v", r)}
		}
	}()

	host, err := weburl.ExtractDomain(rawURL)
	if err == nil && weburl.MatchesDomain(host, c.cfg.DynamicDomains) {
		return Verdict{Dynamic: true, Reason: "known dynamic domain " + host}
	}

	page := c.prober.Fetch(ctx, rawURL)
	if page.Err != nil {
		return Verdict{Dynamic: true, Reason: "probe failed", Probe: page}
	}
	if !page.OK() {
		return Verdict{Dynamic: true, Reason: fmt.Sprintf("probe status %d", page.Status), Probe: page}
	}

	dynamic, reason := c.inspect(rawURL, page.HTML)
	return Verdict{Dynamic: dynamic, Reason: reason, Probe: page}
}

func (c *Classifier) inspect(rawURL, html string) (bool, string) {
	lower := strings.ToLower(html)

	for _, sig := range scriptSignatures {
		if strings.Contains(lower, sig) {
			return true, "script signature " + sig
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return true, "unparsable markup"
	}

	if doc.Find(protectionSelector).Length() > 0 ||
		strings.Contains(lower, "[email&#160;protected]") ||
		strings.Contains(lower, "[email protected]") {
		return true, "protected contact elements"
	}

	visible := contact.HasContactPattern(html)

	if len(html) > c.cfg.LargePageBytes && !visible {
		return true, "large page without visible contacts"
	}

	if looksLikeContactPage(rawURL, doc) && !visible {
		return true, "contact page without visible contacts"
	}

	return false, "no dynamic indicators"
}

func looksLikeContactPage(rawURL string, doc *goquery.Document) bool {
	if u, err := url.Parse(rawURL); err == nil && strings.Contains(strings.ToLower(u.Path), "contact") {
		return true
	}
	title := strings.ToLower(doc.Find("title").First().Text())
	return strings.Contains(title, "contact")
}
