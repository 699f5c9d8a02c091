package extract

import (
	"context"

	"github.com/alvmarrod/lead-weaver/internal/fetch"
	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// DynamicExtractor reads contacts from the markup a headless browser
// produces after running the page's scripts
type DynamicExtractor struct {
	base
	renderer fetch.Renderer
}

// NewDynamicExtractor creates a DynamicExtractor. The renderer is owned by
// the caller, who must Close it when the run ends.
func NewDynamicExtractor(renderer fetch.Renderer, opts Options) *DynamicExtractor {
	return &DynamicExtractor{base: newBase(opts), renderer: renderer}
}

// Extract renders rawURL and extracts its contacts
func (e *DynamicExtractor) Extract(ctx context.Context, rawURL string, unit storage.SearchUnit) Result {
	res := Result{Record: storage.NewRecord(rawURL, unit), Dynamic: true}
	defer e.pause(ctx)

	if !e.allowed(ctx, rawURL) {
		logrus.Infof("Scraping not allowed by robots.txt for %s", rawURL)
		res.Err = fetch.ErrBlockedByRobots
		return res
	}

	markup, err := e.renderer.Render(ctx, rawURL)
	if err != nil {
		logrus.Warnf("Failed to render %s: %v", rawURL, err)
		res.Err = err
		return res
	}

	// Rendered source keeps decoded values in attributes, so scan it too
	res.Text, res.Title = e.parse(rawURL, markup, true, &res.Record)
	logrus.WithFields(logrus.Fields{
		"url":   rawURL,
		"email": res.Record.Email,
		"phone": res.Record.Phone,
	}).Info("Extracted rendered page")
	return res
}
