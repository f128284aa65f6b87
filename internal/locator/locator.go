// Package locator holds the small, pure helpers the rest of the crawler leans
// on: URL canonicalization, identifier derivation, currency sniffing and
// locale-aware number parsing. Nothing here performs I/O.
package locator

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/storefront-watch/internal/hash/sha256"
)

const fallbackIDLength = 16

var (
	numericSegment = regexp.MustCompile(`\d{6,}`)
	handleSegment  = regexp.MustCompile(`/@([A-Za-z0-9._-]+)`)
)

// CanonicalURL strips query string and fragment, lowercases scheme and host,
// drops default ports and a trailing slash. Unparseable input is returned with
// only the query and fragment removed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}

// ResolveURL resolves href against base and returns an absolute http(s) URL.
func ResolveURL(base, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base != "" {
		if b, err := url.Parse(base); err == nil {
			ref = b.ResolveReference(ref)
		}
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	return ref.String(), true
}

// ProductIDFromURL returns the last run of six or more digits in the URL path.
func ProductIDFromURL(raw string) (string, bool) {
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	}
	matches := numericSegment.FindAllString(path, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1], true
}

// FallbackID derives a stable identifier from content, typically the canonical URL.
func FallbackID(content string) string {
	return "h" + sha256.Short(content, fallbackIDLength)
}

// DedupKey is the frontier identity of a URL: the path identifier when one
// exists, otherwise a hash of the canonical URL.
func DedupKey(raw string) string {
	if id, ok := ProductIDFromURL(raw); ok {
		return id
	}
	return FallbackID(CanonicalURL(raw))
}

// SellerHandle extracts the account handle from an "/@handle" path segment.
func SellerHandle(href string) (string, bool) {
	m := handleSegment.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SellerURL builds the storefront URL of a seller handle.
func SellerURL(baseURL, handle string) string {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	return strings.TrimRight(baseURL, "/") + "/@" + url.PathEscape(handle)
}

// KeywordURL builds the search URL for a keyword.
func KeywordURL(baseURL, keyword string) string {
	return strings.TrimRight(baseURL, "/") + "/search?q=" + url.QueryEscape(strings.TrimSpace(keyword))
}
