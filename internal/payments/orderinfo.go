package payments

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	marksRemover = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	nonWordRunes = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

// NormalizeOrderInfo renders an order description as plain ASCII for the
// gateway: diacritics are stripped, the Vietnamese d-bar is transliterated,
// and runs of non-word characters collapse to single spaces.
func NormalizeOrderInfo(input string) string {
	stripped, _, err := transform.String(marksRemover, input)
	if err != nil {
		stripped = input
	}

	stripped = strings.ReplaceAll(stripped, "đ", "d")
	stripped = strings.ReplaceAll(stripped, "Đ", "D")

	collapsed := nonWordRunes.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(collapsed)
}
