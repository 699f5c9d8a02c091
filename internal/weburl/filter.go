package weburl

import (
	"net/url"
	"regexp"
	"strings"
)

// Excluded result patterns (search engine caches, document viewers, ad redirects)
var excludedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|\.)google\.[a-z.]+$`),
	regexp.MustCompile(`(?i)googleusercontent\.com$`),
	regexp.MustCompile(`(?i)doubleclick\.net$`),
	regexp.MustCompile(`(?i)^ads?\.`),
	regexp.MustCompile(`(?i)youtube\.com$`),
	regexp.MustCompile(`(?i)wikipedia\.org$`),
}

// Documents we never try to read contacts from
var excludedExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".zip"}

// ExtractDomain extracts the lowercased hostname from a URL string
func ExtractDomain(urlStr string) (string, error) {
	// Handle protocol-relative URLs
	if strings.HasPrefix(urlStr, "//") {
		urlStr = "https:" + urlStr
	}

	// Relative URLs carry no host
	if !strings.Contains(urlStr, "://") {
		return "", nil
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}

	return strings.ToLower(parsed.Hostname()), nil
}

// MatchesDomain reports whether host is one of domains or a subdomain of one
func MatchesDomain(host string, domains []string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// IsExcluded checks if a result URL should never be visited
func IsExcluded(rawURL string) bool {
	host, err := ExtractDomain(rawURL)
	if err != nil || host == "" {
		return true
	}

	for _, pattern := range excludedPatterns {
		if pattern.MatchString(host) {
			return true
		}
	}

	path := strings.ToLower(rawURL)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, ext := range excludedExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// FilterResults drops empty, excluded and duplicate URLs from a search
// response, keeping the provider's order, and stops at maxResults
func FilterResults(urls []string, maxResults int) []string {
	seen := make(map[string]bool)
	var filtered []string

	for _, raw := range urls {
		link := strings.TrimSpace(raw)
		if link == "" {
			continue
		}

		if IsExcluded(link) {
			continue
		}

		if seen[link] {
			continue
		}

		seen[link] = true
		filtered = append(filtered, link)

		if maxResults > 0 && len(filtered) >= maxResults {
			break
		}
	}

	return filtered
}

// DisplayHost returns the host of rawURL for use as a fallback display name
func DisplayHost(rawURL string) string {
	host, err := ExtractDomain(rawURL)
	if err != nil || host == "" {
		return rawURL
	}
	return strings.TrimPrefix(host, "www.")
}
