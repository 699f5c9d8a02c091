package extract

import (
	"context"

	"github.com/alvmarrod/lead-weaver/internal/classify"
	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// Classifier picks the extraction path for a URL
type Classifier interface {
	Classify(ctx context.Context, rawURL string) classify.Verdict
}

// Dispatcher routes each URL to the static or dynamic extractor following
// the classifier's verdict
type Dispatcher struct {
	classifier Classifier
	static     *StaticExtractor
	dynamic    Extractor
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(classifier Classifier, static *StaticExtractor, dynamic Extractor) *Dispatcher {
	return &Dispatcher{classifier: classifier, static: static, dynamic: dynamic}
}

// Extract classifies rawURL and runs the matching extractor
func (d *Dispatcher) Extract(ctx context.Context, rawURL string, unit storage.SearchUnit) Result {
	// Do not even probe pages robots.txt keeps us out of
	if !d.static.allowed(ctx, rawURL) {
		return d.static.ExtractPage(ctx, rawURL, unit, nil)
	}

	verdict := d.classifier.Classify(ctx, rawURL)
	if verdict.Dynamic {
		logrus.Infof("Using dynamic extractor for %s (%s)", rawURL, verdict.Reason)
		return d.dynamic.Extract(ctx, rawURL, unit)
	}

	logrus.Infof("Using static extractor for %s", rawURL)
	return d.static.ExtractPage(ctx, rawURL, unit, verdict.Probe)
}
