package extract

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/locator"
)

var (
	hydrationProductID = regexp.MustCompile(
		`"(?:productId|product_id|itemId|item_id)"\s*:\s*"?([A-Za-z0-9_-]+)"?`,
	)
	hydrationTitle = regexp.MustCompile(
		`"(?:title|productTitle|productName|product_name)"\s*:\s*"([^"\\]{3,200})"`,
	)
	hydrationPrice = regexp.MustCompile(
		`"(?:price|salePrice|sale_price|currentPrice|current_price)"\s*:\s*"?([0-9][0-9.,]*)"?`,
	)
	hydrationOriginal = regexp.MustCompile(
		`"(?:originalPrice|original_price|listPrice|list_price)"\s*:\s*"?([0-9][0-9.,]*)"?`,
	)
	hydrationCurrency = regexp.MustCompile(
		`"(?:currency|currencyCode|currency_code|priceCurrency)"\s*:\s*"([A-Za-z]{3})"`,
	)
)

// ReadHydration pattern-matches the serialized hydration payload. It is lossy
// by nature and only ever fills fields earlier sources left empty. When no
// hydration payload exists the raw inline scripts are scanned instead.
func ReadHydration(in Input) (crawler.ProductRecord, error) {
	text := in.State.Hydration
	if strings.TrimSpace(text) == "" {
		text = strings.Join(in.State.Scripts, "\n")
	}
	if strings.TrimSpace(text) == "" {
		return crawler.ProductRecord{}, errNotFound
	}

	var rec crawler.ProductRecord
	if m := hydrationProductID.FindStringSubmatch(text); m != nil {
		rec.ProductID = m[1]
	}
	if m := hydrationTitle.FindStringSubmatch(text); m != nil {
		rec.Title = crawler.StringPtr(m[1])
	}
	if m := hydrationPrice.FindStringSubmatch(text); m != nil {
		rec.Price.Current = floatPtr(locator.ParseNumber(m[1]))
	}
	if m := hydrationOriginal.FindStringSubmatch(text); m != nil {
		rec.Price.Original = floatPtr(locator.ParseNumber(m[1]))
	}
	if m := hydrationCurrency.FindStringSubmatch(text); m != nil {
		rec.Price.Currency = currencyPtr(m[1])
	}
	if rec.Price.Currency == nil {
		if code, ok := locator.SniffCurrency(text); ok {
			rec.Price.Currency = &code
		}
	}

	if rec.ProductID == "" && rec.Title == nil && rec.Price.Current == nil {
		return crawler.ProductRecord{}, errNotFound
	}
	return rec, nil
}
