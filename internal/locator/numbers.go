package locator

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	numericChars  = regexp.MustCompile(`[^0-9,.\-]`)
	currencyCodes = regexp.MustCompile(
		`\b(USD|EUR|GBP|JPY|IDR|MYR|THB|VND|PHP|SGD|KRW|CAD|AUD|MXN|BRL|INR|CNY|SAR|AED|TRY|PLN)\b`,
	)
	rupiahPrefix  = regexp.MustCompile(`\bRp\s?\d`)
	ringgitPrefix = regexp.MustCompile(`\bRM\s?\d`)
)

var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₫", "VND"},
	{"₱", "PHP"},
	{"₩", "KRW"},
	{"฿", "THB"},
	{"₹", "INR"},
}

// ParseNumber parses a locale-formatted number. Everything but digits, comma,
// dot and minus is discarded. With both comma and dot present the comma is a
// thousands separator; with only a comma it is the decimal separator.
func ParseNumber(s string) (float64, bool) {
	cleaned := numericChars.ReplaceAllString(s, "")
	if cleaned == "" {
		return 0, false
	}
	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")
	switch {
	case hasComma && hasDot:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case hasComma:
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseCount parses engagement counts such as "1,234", "1.2K" or "3M".
func ParseCount(s string) (int64, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1e3
	case strings.HasSuffix(s, "M"):
		multiplier = 1e6
	case strings.HasSuffix(s, "B"):
		multiplier = 1e9
	}
	if multiplier != 1 {
		s = strings.TrimSpace(s[:len(s)-1])
	}
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return int64(math.Round(f * multiplier)), true
}

// SniffCurrency infers an ISO currency code from free text. An explicit
// three-letter code wins over symbols; "$" alone maps to USD.
func SniffCurrency(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	if m := currencyCodes.FindString(text); m != "" {
		return m, true
	}
	for _, cs := range currencySymbols {
		if strings.Contains(text, cs.symbol) {
			return cs.code, true
		}
	}
	if rupiahPrefix.MatchString(text) {
		return "IDR", true
	}
	if ringgitPrefix.MatchString(text) {
		return "MYR", true
	}
	if strings.Contains(text, "$") {
		return "USD", true
	}
	return "", false
}

// NormalizeCurrency upper-cases an explicit currency value, falling back to sniffing.
func NormalizeCurrency(value string) (string, bool) {
	v := strings.ToUpper(strings.TrimSpace(value))
	if len(v) == 3 && strings.Trim(v, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") == "" {
		return v, true
	}
	return SniffCurrency(value)
}
