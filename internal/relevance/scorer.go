// Package relevance scores page text against sector term lists.
package relevance

import (
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultProfile is used when the configured sector has no profile
const DefaultProfile = "default"

// DefaultThreshold is the minimum score a page needs to be accepted
const DefaultThreshold = 40

// Profile lists the terms that indicate a page does or does not belong to a sector
type Profile struct {
	Relevant   []string `mapstructure:"relevant" yaml:"relevant" json:"relevant"`
	Irrelevant []string `mapstructure:"irrelevant" yaml:"irrelevant" json:"irrelevant"`
}

// Result is the verdict for one page
type Result struct {
	Score    int
	Accepted bool
	Reason   string
}

// Scorer holds the active profile with its terms folded for matching
type Scorer struct {
	sector     string
	relevant   []string
	irrelevant []string
	threshold  int
}

// NewScorer selects sector from profiles, falling back to DefaultProfile.
// With neither present every page scores 0.
func NewScorer(sector string, profiles map[string]Profile, threshold int) *Scorer {
	profile, ok := profiles[sector]
	if !ok {
		profile, ok = profiles[DefaultProfile]
		if ok {
			logrus.Warnf("No relevance profile for sector %q, using %q", sector, DefaultProfile)
		}
	}
	if len(profile.Relevant) == 0 {
		logrus.Warnf("Relevance profile for sector %q has no relevant terms: every page will be rejected", sector)
	}

	return &Scorer{
		sector:     sector,
		relevant:   foldAll(profile.Relevant),
		irrelevant: foldAll(profile.Irrelevant),
		threshold:  threshold,
	}
}

// Sector returns the configured sector name
func (s *Scorer) Sector() string {
	return s.sector
}

// Score rates text and title. Each relevant term counts once in the body
// and twice in the title, each irrelevant term in the body subtracts one.
// The sum is scaled against three times the number of relevant terms.
func (s *Scorer) Score(text, title string) Result {
	if len(s.relevant) == 0 {
		return Result{Score: 0, Accepted: false, Reason: reason(0)}
	}

	body := Fold(text)
	head := Fold(title)

	raw := 0
	for _, term := range s.relevant {
		if strings.Contains(body, term) {
			raw++
		}
		if strings.Contains(head, term) {
			raw += 2
		}
	}
	for _, term := range s.irrelevant {
		if strings.Contains(body, term) {
			raw--
		}
	}

	ceiling := 3 * len(s.relevant)
	score := max(0, min(100, raw*100/ceiling))

	return Result{
		Score:    score,
		Accepted: score >= s.threshold,
		Reason:   reason(score),
	}
}

func reason(score int) string {
	switch {
	case score >= 70:
		return "high"
	case score >= 40:
		return "medium"
	default:
		return "low"
	}
}

// Fold lowercases s and strips diacritics, so "Panadería" matches "panaderia"
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func foldAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if f := strings.TrimSpace(Fold(term)); f != "" {
			out = append(out, f)
		}
	}
	return out
}
