package extract

import (
	"context"
	"fmt"

	"github.com/alvmarrod/lead-weaver/internal/fetch"
	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// PageFetcher returns the markup of a URL as served
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) *fetch.Page
}

// StaticExtractor reads contacts from the served markup
type StaticExtractor struct {
	base
	fetcher PageFetcher
}

// NewStaticExtractor creates a StaticExtractor
func NewStaticExtractor(fetcher PageFetcher, opts Options) *StaticExtractor {
	return &StaticExtractor{base: newBase(opts), fetcher: fetcher}
}

// Extract fetches rawURL and extracts its contacts
func (e *StaticExtractor) Extract(ctx context.Context, rawURL string, unit storage.SearchUnit) Result {
	return e.ExtractPage(ctx, rawURL, unit, nil)
}

// ExtractPage works like Extract but reuses page when it is a successful
// fetch of rawURL, saving a second request after classification
func (e *StaticExtractor) ExtractPage(ctx context.Context, rawURL string, unit storage.SearchUnit, page *fetch.Page) Result {
	res := Result{Record: storage.NewRecord(rawURL, unit)}
	defer e.pause(ctx)

	if !e.allowed(ctx, rawURL) {
		logrus.Infof("Scraping not allowed by robots.txt for %s", rawURL)
		res.Err = fetch.ErrBlockedByRobots
		return res
	}

	if !page.OK() {
		page = e.fetcher.Fetch(ctx, rawURL)
	}
	if page.Err != nil {
		logrus.Warnf("Failed to fetch %s: %v", rawURL, page.Err)
		res.Err = page.Err
		return res
	}
	if !page.OK() {
		logrus.Warnf("Error %d accessing %s", page.Status, rawURL)
		res.Err = fmt.Errorf("status %d", page.Status)
		return res
	}

	res.Text, res.Title = e.parse(rawURL, page.HTML, false, &res.Record)
	logrus.WithFields(logrus.Fields{
		"url":   rawURL,
		"email": res.Record.Email,
		"phone": res.Record.Phone,
	}).Info("Extracted page")
	return res
}
