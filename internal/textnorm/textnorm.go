// Package textnorm builds comparison keys for city names.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// dStroke folds the Vietnamese đ/Đ, which has no canonical decomposition
// and survives the NFD + mark removal pass.
var dStroke = strings.NewReplacer("đ", "d", "Đ", "D")

// Normalize maps a display string to its comparison key: decomposed,
// combining marks removed, đ/Đ folded to d/D, lowercased and trimmed.
// "Hà Nội" and " ha noi" both yield "ha noi". Empty input yields "".
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		// Invalid UTF-8 is passed through untouched rather than rejected.
		out = s
	}
	out = dStroke.Replace(out)
	return strings.TrimSpace(strings.ToLower(out))
}

// Contains reports whether the normalized form of s contains the normalized
// form of substr. An empty substr matches everything.
func Contains(s, substr string) bool {
	return strings.Contains(Normalize(s), Normalize(substr))
}
