package extract

import (
	"strings"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

const maxLinkedDataDepth = 8

// ReadLinkedData reads the first schema.org Product node found in the page's
// ld+json blocks.
func ReadLinkedData(in Input) (crawler.ProductRecord, error) {
	for _, block := range in.State.LinkedData {
		var doc any
		if err := decodeJSON(strings.TrimSpace(block), &doc); err != nil {
			continue
		}
		if node := findProductNode(doc, 0); node != nil {
			return productFromLinkedData(node), nil
		}
	}
	return crawler.ProductRecord{}, errNotFound
}

func findProductNode(v any, depth int) map[string]any {
	if depth > maxLinkedDataDepth {
		return nil
	}
	switch t := v.(type) {
	case map[string]any:
		if typeIs(t["@type"], "Product") {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return findProductNode(graph, depth+1)
		}
		if main, ok := t["mainEntity"]; ok {
			return findProductNode(main, depth+1)
		}
	case []any:
		for _, item := range t {
			if node := findProductNode(item, depth+1); node != nil {
				return node
			}
		}
	}
	return nil
}

// typeIs matches a JSON-LD @type that is either a string or a list of strings.
// Prefixed forms such as "schema:Product" or full IRIs also match.
func typeIs(v any, want string) bool {
	match := func(s string) bool {
		s = strings.TrimSpace(s)
		if i := strings.LastIndexAny(s, ":/#"); i >= 0 {
			s = s[i+1:]
		}
		return strings.EqualFold(s, want)
	}
	switch t := v.(type) {
	case string:
		return match(t)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && match(s) {
				return true
			}
		}
	}
	return false
}

func productFromLinkedData(node map[string]any) crawler.ProductRecord {
	rec := crawler.ProductRecord{
		ProductID:   firstString(node, "sku", "productID", "productId", "mpn"),
		Title:       crawler.StringPtr(asString(node["name"])),
		Description: crawler.StringPtr(asString(node["description"])),
		Images:      imageList(node["image"]),
	}

	// When offers is a list the first entry is authoritative.
	if offer := firstMap(node["offers"]); offer != nil {
		readOffer(offer, &rec)
	}

	if rec.Seller.Name == nil {
		rec.Seller.Name = crawler.StringPtr(asString(node["brand"]))
	}

	if rating := asMap(node["aggregateRating"]); rating != nil {
		rec.Rating = floatPtr(firstFloat(rating, "ratingValue"))
		rec.ReviewCount = intPtr(firstFloat(rating, "reviewCount", "ratingCount"))
	}
	return rec
}

func readOffer(offer map[string]any, rec *crawler.ProductRecord) {
	rec.Price.Current = floatPtr(firstFloat(offer, "price", "lowPrice"))
	rec.Price.Currency = currencyPtr(asString(offer["priceCurrency"]))
	rec.Availability = normalizeAvailability(asString(offer["availability"]))

	if seller := offer["seller"]; seller != nil {
		rec.Seller.Name = crawler.StringPtr(asString(seller))
		if m := asMap(seller); m != nil {
			rec.Seller.URL = crawler.StringPtr(asString(m["url"]))
		}
	}

	// priceSpecification may carry the current price and a strike-through list price.
	priceSpecs := offer["priceSpecification"]
	var list []any
	switch t := priceSpecs.(type) {
	case []any:
		list = t
	case map[string]any:
		list = []any{t}
	}
	for _, item := range list {
		ps := asMap(item)
		if ps == nil {
			continue
		}
		priceType := strings.ToLower(asString(ps["priceType"]))
		price, ok := firstFloat(ps, "price")
		if !ok {
			continue
		}
		if strings.Contains(priceType, "listprice") || strings.Contains(priceType, "strikethrough") {
			if rec.Price.Original == nil {
				rec.Price.Original = crawler.FloatPtr(price)
			}
			continue
		}
		if rec.Price.Current == nil {
			rec.Price.Current = crawler.FloatPtr(price)
		}
		if rec.Price.Currency == nil {
			rec.Price.Currency = currencyPtr(asString(ps["priceCurrency"]))
		}
	}
}
