package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/locator"
)

var creatorVideoPattern = regexp.MustCompile(`/@([\w.-]+)/video/(\d+)`)

// ReadCreators collects creator video cross-links from the page. Links are
// deduplicated by resolved video URL and capped at limit.
func ReadCreators(doc *goquery.Document, baseURL string, limit int) []crawler.Creator {
	out := []crawler.Creator{}
	if doc == nil || limit <= 0 {
		return out
	}
	seen := map[string]struct{}{}
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		m := creatorVideoPattern.FindStringSubmatch(href)
		if m == nil {
			return true
		}
		abs, ok := locator.ResolveURL(baseURL, href)
		if !ok {
			return true
		}
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}
		out = append(out, crawler.Creator{
			Creator:  m[1],
			VideoURL: abs,
			Likes:    engagementCount(s, "like"),
			Comments: engagementCount(s, "comment"),
			Shares:   engagementCount(s, "share"),
		})
		return len(out) < limit
	})
	return out
}

// engagementCount reads a counter from a data attribute on the anchor or from
// a labelled child element such as [data-e2e="video-likes"].
func engagementCount(s *goquery.Selection, kind string) *int64 {
	if v, ok := s.Attr("data-" + kind + "s"); ok {
		if n, ok := locator.ParseCount(v); ok {
			return &n
		}
	}
	text := strings.TrimSpace(s.Find(`[data-e2e*="` + kind + `"]`).First().Text())
	if text == "" {
		return nil
	}
	if n, ok := locator.ParseCount(text); ok {
		return &n
	}
	return nil
}
