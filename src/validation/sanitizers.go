package validation

import (
	"strings"
	"unicode"

	"github.com/username/opsledger/src/models"
)

// StripUnprintable removes non-printable characters, allowing common whitespace
// like space, tab, newline, and carriage return.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1
	}, s)
}

// NormalizeAssetCode trims and upper-cases a ticker, dropping anything unprintable.
func NormalizeAssetCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(StripUnprintable(code)))
}

// SanitizeLineItem returns a copy of item with its text fields cleaned.
func SanitizeLineItem(item models.LineItem) models.LineItem {
	item.AssetCode = NormalizeAssetCode(item.AssetCode)
	item.Side = models.Side(strings.ToUpper(strings.TrimSpace(string(item.Side))))
	item.Observations = strings.TrimSpace(StripUnprintable(item.Observations))
	return item
}
