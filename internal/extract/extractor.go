// Package extract turns a result URL into a contact record, reading the page
// either as served or after browser rendering.
package extract

import (
	"context"
	"html"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/lead-weaver/internal/contact"
	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/alvmarrod/lead-weaver/internal/weburl"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
)

// Extractor produces a record for one URL found by a search unit.
// Failures never surface as errors: the record just keeps its identifying fields.
type Extractor interface {
	Extract(ctx context.Context, rawURL string, unit storage.SearchUnit) Result
}

// Result carries the record plus the page content the scorer needs
type Result struct {
	Record  storage.ContactRecord
	Text    string
	Title   string
	Dynamic bool
	// Err explains why the record is bare; informational only
	Err error
}

// Complete reports whether the page was read
func (r Result) Complete() bool {
	return r.Err == nil && !r.Record.ExtractedAt.IsZero()
}

// RobotsChecker decides whether a URL may be scraped
type RobotsChecker interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// MailChecker confirms that an email domain can receive mail
type MailChecker interface {
	HasMX(email string) bool
}

// Options are shared by the static and dynamic extractors
type Options struct {
	Robots          RobotsChecker // nil allows everything
	MX              MailChecker   // nil skips the check
	WhatsAppMessage string
	DelayMin        time.Duration
	DelayMax        time.Duration
	Now             func() time.Time
}

type base struct {
	opts   Options
	policy *bluemonday.Policy
}

func newBase(opts Options) base {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DelayMax < opts.DelayMin {
		opts.DelayMax = opts.DelayMin
	}

	policy := bluemonday.StrictPolicy()
	policy.AddSpaceWhenStrippingTag(true)
	return base{opts: opts, policy: policy}
}

func (b *base) allowed(ctx context.Context, rawURL string) bool {
	if b.opts.Robots == nil {
		return true
	}
	return b.opts.Robots.Allowed(ctx, rawURL)
}

// pause sleeps a random extraction delay unless ctx ends first
func (b *base) pause(ctx context.Context) {
	d := b.opts.DelayMin
	if b.opts.DelayMax > b.opts.DelayMin {
		d += rand.N(b.opts.DelayMax - b.opts.DelayMin)
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

// parse fills rec from markup. Explicit mailto: and tel: links win over
// free-text matches; scanMarkup extends the text search to the raw source.
func (b *base) parse(rawURL, markup string, scanMarkup bool, rec *storage.ContactRecord) (text, title string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		logrus.Warnf("Failed to parse markup of %s: %v", rawURL, err)
		return "", ""
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	text = b.visibleText(markup)

	email := linkedEmail(doc)
	if email == "" {
		var seen int
		email, seen = contact.FindEmail(text)
		if email == "" && scanMarkup {
			email, seen = contact.FindEmail(markup)
		}
		if email == "" && seen > 0 {
			logrus.Debugf("Found %d candidate emails on %s, none valid", seen, rawURL)
		}
	}
	if email != "" && b.opts.MX != nil && !b.opts.MX.HasMX(email) {
		logrus.Debugf("Discarding %s: domain has no MX record", email)
		email = ""
	}
	rec.Email = email

	phone := linkedPhone(doc)
	if phone == "" {
		phone = contact.FindPhone(text)
	}
	if phone == "" && scanMarkup {
		phone = contact.FindPhone(markup)
	}
	if phone != "" {
		rec.Phone = phone
		rec.WhatsAppLink = contact.WhatsAppLink(phone, b.opts.WhatsAppMessage)
	}

	rec.DisplayName = displayName(rawURL, title)
	rec.ExtractedAt = b.opts.Now()
	return text, title
}

func (b *base) visibleText(markup string) string {
	text := html.UnescapeString(b.policy.Sanitize(markup))
	return strings.Join(strings.Fields(text), " ")
}

func linkedEmail(doc *goquery.Document) string {
	var email string
	doc.Find(`a[href^="mailto:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if unescaped, err := url.PathUnescape(addr); err == nil {
			addr = unescaped
		}
		addr = strings.ToLower(strings.TrimSpace(addr))
		if contact.ValidEmail(addr) {
			email = addr
			return false
		}
		return true
	})
	return email
}

func linkedPhone(doc *goquery.Document) string {
	var phone string
	doc.Find(`a[href^="tel:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		raw, err := url.PathUnescape(strings.TrimPrefix(href, "tel:"))
		if err != nil {
			return true
		}
		phone = contact.FindPhone(raw)
		return phone == ""
	})
	return phone
}

// displayName takes the page title up to the first "|", or the host when untitled
func displayName(rawURL, title string) string {
	if name, _, _ := strings.Cut(title, "|"); strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	return weburl.DisplayHost(rawURL)
}
