// Package contact holds the pure rules used to recognise, validate and
// normalize the contact details found on a page.
package contact

import (
	"net/url"
	"regexp"
	"strings"
)

// CountryCode is the calling code prepended to national mobile numbers
const CountryCode = "34"

var (
	// EmailPattern matches candidate addresses in free text
	EmailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// PhonePattern matches Spanish mobile/landline numbers, with or without
	// the country prefix, written compact or in groups of two digits
	PhonePattern = regexp.MustCompile(`(?:\+34|34)?[ -]?[6789](?:[ -]?\d{2}){4}|(?:\+34|34)?[ -]?[6789]\d{8}`)

	versionLike  = regexp.MustCompile(`\d+\.\d+\.\d+`)
	versionTag   = regexp.MustCompile(`v\d+`)
	nonPhoneChar = regexp.MustCompile(`[^0-9+]`)
)

// Tokens that, found in the first label of an email domain, mark the match as a
// library/framework artifact (e.g. "support@jquery.com" inside a bundled script)
var libraryTokens = []string{
	"jquery", "js", "cdn", "npm", "webpack", "babel", "typescript",
	"vue", "react", "angular", "node", "yarn", "gulp", "grunt",
	"browserify", "parcel", "rollup", "vite", "esbuild",
	"eslint", "prettier", "stylelint", "postcss", "sass", "less",
	"tailwind", "bootstrap", "foundation", "material", "semantic",
	"lodash", "underscore", "moment", "luxon", "dayjs", "date-fns",
	"axios", "fetch", "superagent", "request", "got", "ky", "phin",
	"sequelize", "mongoose", "typeorm", "prisma", "knex", "objection",
	"express", "koa", "hapi", "fastify", "nest", "next", "nuxt",
	"gatsby", "sapper", "svelte", "ember", "backbone", "riot", "aurelia",
	"sentry", "bugsnag", "rollbar", "logrocket", "datadog", "newrelic",
	"cypress", "jest", "mocha", "chai", "karma", "jasmine", "ava",
	"storybook", "styleguidist", "docz", "docsify", "vuepress", "docusaurus",
	"socket", "ws", "graphql", "apollo", "relay", "urql", "hasura",
	"admin", "version", "v1", "v2", "v3", "v4", "v5", "spa", "web",
	"frontend", "backend", "api", "service", "app", "module", "plugin",
}

// Matches that are really asset names or template placeholders
var placeholderFragments = []string{
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css",
	"example.com", "@example", "sentry.io", "youremail", "sampleemail",
}

// ValidEmail reports whether a matched address looks like a real contact
// address rather than a library, version or asset artifact
func ValidEmail(email string) bool {
	if len(email) < 6 || len(email) > 254 {
		return false
	}

	parts := strings.Split(strings.ToLower(email), "@")
	if len(parts) != 2 {
		return false
	}
	local, domain := parts[0], parts[1]

	if len(local) < 2 || !strings.Contains(domain, ".") {
		return false
	}

	labels := strings.Split(domain, ".")
	if tld := labels[len(labels)-1]; len(tld) < 2 {
		return false
	}

	first := labels[0]
	for _, token := range libraryTokens {
		if strings.Contains(first, token) {
			return false
		}
	}

	lower := local + "@" + domain
	for _, frag := range placeholderFragments {
		if strings.Contains(lower, frag) {
			return false
		}
	}

	if versionLike.MatchString(local) || versionTag.MatchString(local) {
		return false
	}

	return true
}

// FindEmail returns the first valid address in text, lowercased.
// The second value reports how many candidates were seen in total.
func FindEmail(text string) (string, int) {
	matches := EmailPattern.FindAllString(text, -1)
	for _, m := range matches {
		email := strings.ToLower(m)
		if ValidEmail(email) {
			return email, len(matches)
		}
	}
	return "", len(matches)
}

// NormalizePhone reduces a matched number to +<country><digits>.
// Returns "" when nothing dialable is left.
func NormalizePhone(raw string) string {
	clean := nonPhoneChar.ReplaceAllString(strings.TrimSpace(raw), "")
	clean = strings.TrimPrefix(clean, "00"+CountryCode)
	if clean == "" || clean == "+" {
		return ""
	}

	switch {
	case strings.HasPrefix(clean, "+"):
		return clean
	case strings.HasPrefix(clean, CountryCode) && len(clean) > 9:
		return "+" + clean
	default:
		return "+" + CountryCode + clean
	}
}

// FindPhone returns the first pattern match in text, normalized
func FindPhone(text string) string {
	for _, m := range PhonePattern.FindAllString(text, -1) {
		if phone := NormalizePhone(m); phone != "" {
			return phone
		}
	}
	return ""
}

// WhatsAppLink derives a click-to-chat link for a normalized phone number
func WhatsAppLink(phone, message string) string {
	digits := strings.TrimPrefix(phone, "+")
	if digits == "" {
		return ""
	}

	link := "https://wa.me/" + digits
	if message != "" {
		link += "?text=" + url.QueryEscape(message)
	}
	return link
}

// HasContactPattern reports whether text directly exposes an email or phone
func HasContactPattern(text string) bool {
	return EmailPattern.MatchString(text) || PhonePattern.MatchString(text)
}
