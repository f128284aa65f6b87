package extract

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/locator"
)

var typeTagKeys = []string{"__typename", "@type", "typename", "type"}

// ReadStateCache walks a normalized client cache (Apollo/Relay style, keyed by
// opaque IDs) and fills fields from every entry tagged as a Product. Entries
// are visited in key order so the result is deterministic.
func ReadStateCache(in Input) (crawler.ProductRecord, error) {
	raw := strings.TrimSpace(in.State.StateCache)
	if raw == "" {
		return crawler.ProductRecord{}, errNotFound
	}
	var cache map[string]any
	if err := decodeJSON(raw, &cache); err != nil {
		return crawler.ProductRecord{}, err
	}

	keys := make([]string, 0, len(cache))
	for k := range cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rec crawler.ProductRecord
	found := false
	for _, k := range keys {
		entry := asMap(cache[k])
		if entry == nil || !isProductEntry(entry) {
			continue
		}
		found = true
		merge(&rec, productFromCacheEntry(entry, cache))
	}
	if !found {
		return crawler.ProductRecord{}, errNotFound
	}
	return rec, nil
}

func isProductEntry(entry map[string]any) bool {
	for _, key := range typeTagKeys {
		if tag, ok := entry[key].(string); ok && strings.EqualFold(tag, "Product") {
			return true
		}
	}
	return false
}

func productFromCacheEntry(entry map[string]any, cache map[string]any) crawler.ProductRecord {
	rec := crawler.ProductRecord{
		ProductID:   firstString(entry, "productId", "product_id", "id", "sku"),
		Title:       crawler.StringPtr(firstString(entry, "title", "name", "productName")),
		Description: crawler.StringPtr(firstString(entry, "description", "desc")),
	}

	readCachePrice(entry, cache, &rec)

	if stock := firstString(entry, "stockStatus", "stock_status", "availability", "status"); stock != "" {
		rec.Availability = normalizeAvailability(stock)
	}

	for _, key := range []string{"seller", "shop", "store"} {
		seller := resolveRef(entry[key], cache)
		if seller == nil {
			continue
		}
		rec.Seller.Name = crawler.StringPtr(firstString(seller, "name", "shopName", "nickname"))
		rec.Seller.Handle = crawler.StringPtr(
			strings.TrimPrefix(firstString(seller, "handle", "username", "uniqueId", "unique_id"), "@"),
		)
		rec.Seller.URL = crawler.StringPtr(firstString(seller, "url", "link", "shopUrl"))
		break
	}

	for _, key := range []string{"images", "image", "imageUrls", "gallery"} {
		if imgs := imageList(entry[key]); len(imgs) > 0 {
			rec.Images = imgs
			break
		}
	}
	return rec
}

func readCachePrice(entry map[string]any, cache map[string]any, rec *crawler.ProductRecord) {
	switch price := entry["price"].(type) {
	case json.Number, float64, string:
		rec.Price.Current = floatPtr(asFloat(price))
	case map[string]any:
		p := resolveRef(price, cache)
		rec.Price.Current = floatPtr(firstFloat(p, "current", "amount", "value", "salePrice", "sale_price"))
		rec.Price.Original = floatPtr(firstFloat(p, "original", "originalPrice", "original_price", "listPrice"))
		rec.Price.Currency = currencyPtr(firstString(p, "currency", "currencyCode", "currency_code"))
	}
	if rec.Price.Original == nil {
		rec.Price.Original = floatPtr(firstFloat(entry, "originalPrice", "original_price", "listPrice"))
	}
	if rec.Price.Currency == nil {
		rec.Price.Currency = currencyPtr(firstString(entry, "currency", "currencyCode", "priceCurrency"))
	}
	if rec.Price.Currency == nil {
		if text := firstString(entry, "formattedPrice", "priceText", "displayPrice"); text != "" {
			if code, ok := locator.SniffCurrency(text); ok {
				rec.Price.Currency = &code
			}
		}
	}
}

// resolveRef follows a {"__ref": "Type:id"} pointer into the cache.
func resolveRef(v any, cache map[string]any) map[string]any {
	m := asMap(v)
	if m == nil {
		return nil
	}
	if ref, ok := m["__ref"].(string); ok {
		return asMap(cache[ref])
	}
	return m
}
