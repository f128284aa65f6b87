package orchestrator

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storefront-watch/internal/locator"
)

var (
	productPathPattern = regexp.MustCompile(`(?i)/(product|products|item|items|p|dp|pdp|view/product|shop/pdp)/[^/?#]+`)
	videoPathPattern   = regexp.MustCompile(`/@[^/]+/video/`)
)

// ProductLinks returns the same-site anchors on a listing page whose URL shape
// looks like a product page, in document order and without duplicates.
func ProductLinks(doc *goquery.Document, pageURL string) []string {
	if doc == nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		abs, ok := locator.ResolveURL(pageURL, href)
		if !ok || !looksLikeProduct(abs, base.Hostname()) {
			return
		}
		key := locator.DedupKey(abs)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, abs)
	})
	return links
}

func looksLikeProduct(raw, host string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if !sameSite(u.Hostname(), host) {
		return false
	}
	if videoPathPattern.MatchString(u.Path) {
		return false
	}
	if productPathPattern.MatchString(u.Path) {
		return true
	}
	_, ok := locator.ProductIDFromURL(raw)
	return ok
}

// sameSite treats "www.shop.com" and "shop.com" as one site.
func sameSite(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}
