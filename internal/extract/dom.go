package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/locator"
)

var descriptionSelectors = []string{
	`[data-e2e="product-description"]`,
	`.product-description`,
	`#product-description`,
	`[itemprop="description"]`,
	`meta[name="description"]`,
	`meta[property="og:description"]`,
}

var priceSelectors = []string{
	`[itemprop="price"]`,
	`meta[property="product:price:amount"]`,
	`[data-e2e*="price"]`,
	`.price`,
}

// ReadDOM is the last-resort reader over the rendered document.
func ReadDOM(in Input) (crawler.ProductRecord, error) {
	doc := in.Doc
	if doc == nil {
		return crawler.ProductRecord{}, errNotFound
	}

	var rec crawler.ProductRecord
	rec.Title = crawler.StringPtr(collapseSpace(doc.Find("h1").First().Text()))
	rec.Description = crawler.StringPtr(firstSelectorText(doc, descriptionSelectors))

	if raw := firstSelectorText(doc, priceSelectors); raw != "" {
		rec.Price.Current = floatPtr(locator.ParseNumber(raw))
		if code, ok := locator.SniffCurrency(raw); ok {
			rec.Price.Currency = &code
		}
	}
	if code := firstSelectorText(doc, []string{
		`meta[property="product:price:currency"]`,
		`[itemprop="priceCurrency"]`,
	}); code != "" {
		rec.Price.Currency = currencyPtr(code)
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(src, "data:") {
			src = strings.TrimSpace(s.AttrOr("data-src", ""))
		}
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		rec.Images = append(rec.Images, src)
	})

	rec.Availability = availabilityFromText(doc.Find("body").Text())

	doc.Find(`a[href*="/@"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if creatorVideoPattern.MatchString(href) {
			return true
		}
		abs, ok := locator.ResolveURL(in.URL, href)
		if !ok {
			return true
		}
		handle, ok := locator.SellerHandle(abs)
		if !ok {
			return true
		}
		rec.Seller.Handle = crawler.StringPtr(handle)
		rec.Seller.URL = crawler.StringPtr(abs)
		return false
	})

	return rec, nil
}

// firstSelectorText returns the first non-empty text (or content attribute for
// meta tags) among selectors, tried in order.
func firstSelectorText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := s.AttrOr("content", "")
			if text == "" {
				text = s.Text()
			}
			found = collapseSpace(text)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func availabilityFromText(text string) *crawler.Availability {
	lower := strings.ToLower(collapseSpace(text))
	switch {
	case strings.Contains(lower, "out of stock"),
		strings.Contains(lower, "sold out"),
		strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "not available"):
		return crawler.AvailabilityPtr(crawler.OutOfStock)
	case strings.Contains(lower, "in stock"), strings.Contains(lower, "available"):
		return crawler.AvailabilityPtr(crawler.InStock)
	}
	return nil
}
