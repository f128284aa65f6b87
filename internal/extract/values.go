package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/locator"
)

// Helpers for reading loosely typed decoded JSON (map[string]any / []any).

// decodeJSON decodes raw into out keeping numbers as json.Number, so long
// numeric IDs survive without float64 rounding.
func decodeJSON(raw string, out any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// firstMap returns v when it is an object, or the first object of an array.
func firstMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		// {"@id": ...} style references and {"name": ...} wrappers.
		if name := asString(t["name"]); name != "" {
			return name
		}
	}
	return ""
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case string:
		return locator.ParseNumber(t)
	}
	return 0, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := asFloat(m[k]); ok {
			return f, true
		}
	}
	return 0, false
}

func floatPtr(f float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return crawler.FloatPtr(f)
}

func intPtr(f float64, ok bool) *int64 {
	if !ok || f < 0 {
		return nil
	}
	return crawler.IntPtr(int64(math.Round(f)))
}

func currencyPtr(value string) *string {
	if value == "" {
		return nil
	}
	code, ok := locator.NormalizeCurrency(value)
	if !ok {
		return nil
	}
	return &code
}

// imageList flattens the string / array / {url} shapes images come in.
func imageList(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range t {
			out = append(out, imageList(item)...)
		}
	case map[string]any:
		if s := firstString(t, "url", "contentUrl", "src", "uri"); s != "" {
			out = append(out, s)
		}
		if list, ok := t["url_list"]; ok {
			out = append(out, imageList(list)...)
		}
	}
	return out
}

// normalizeAvailability maps availability strings by case-insensitive
// substring match; anything unrecognized is unknown.
func normalizeAvailability(s string) *crawler.Availability {
	v := strings.ToLower(s)
	v = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(v)
	switch {
	case v == "":
		return nil
	case strings.Contains(v, "outofstock"):
		return crawler.AvailabilityPtr(crawler.OutOfStock)
	case strings.Contains(v, "instock"):
		return crawler.AvailabilityPtr(crawler.InStock)
	default:
		return nil
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
