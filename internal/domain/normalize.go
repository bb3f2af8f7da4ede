package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeLabel folds free text coming from bank exports so that labels
// differing only in accents, case or spacing compare equal.
func NormalizeLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	normalized, _, err := transform.String(t, s)
	if err != nil {
		normalized = s
	}
	return strings.ToLower(strings.Join(strings.Fields(normalized), " "))
}
