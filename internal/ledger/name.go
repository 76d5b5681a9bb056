package ledger

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titler = cases.Title(language.BritishEnglish)

// DerivedName extracts a display name from a bank description: the leading
// run of letters, spaces and apostrophes, cut back so that it stops before
// the first digit and before any letter directly followed by a digit, then
// title-cased with runs of spaces collapsed.
//
//	"Sarah's SweetShop"          -> "Sarah's Sweetshop"
//	"MR J SMITH REF 0042"        -> "Mr J Smith Ref"
//	"CARD PAYMENT TO TESCO3456"  -> "Card Payment To Tes"
func DerivedName(description string) string {
	rs := []rune(description)

	n := 0
	for n < len(rs) && nameRune(rs[n]) {
		n++
	}

	for k := n; k >= 0; k-- {
		rest := rs[k:]
		if len(rest) > 0 && unicode.IsDigit(rest[0]) {
			continue
		}
		if len(rest) > 1 && wordRune(rest[0]) && unicode.IsDigit(rest[1]) {
			continue
		}
		return titler.String(strings.Join(strings.Fields(string(rs[:k])), " "))
	}
	return ""
}

func nameRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == ' ' || r == '\''
}

func wordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
