package locator

import "strings"

var regionLanguages = map[string]string{
	"US": "en-US",
	"GB": "en-GB",
	"UK": "en-GB",
	"IE": "en-IE",
	"CA": "en-CA",
	"AU": "en-AU",
	"DE": "de-DE",
	"FR": "fr-FR",
	"ES": "es-ES",
	"IT": "it-IT",
	"MX": "es-MX",
	"BR": "pt-BR",
	"ID": "id-ID",
	"MY": "ms-MY",
	"TH": "th-TH",
	"VN": "vi-VN",
	"PH": "en-PH",
	"SG": "en-SG",
	"JP": "ja-JP",
	"SA": "ar-SA",
}

// AcceptLanguage returns the Accept-Language header value for a region code.
// Unknown regions fall back to US English.
func AcceptLanguage(region string) string {
	tag, ok := regionLanguages[strings.ToUpper(strings.TrimSpace(region))]
	if !ok {
		tag = "en-US"
	}
	primary := tag[:strings.Index(tag, "-")]
	return tag + "," + primary + ";q=0.9"
}
