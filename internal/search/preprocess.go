package search

import "strings"

// foldGerman rewrites German letters to their ASCII transliterations so that
// queries typed on ASCII keyboards match native spellings in either
// direction: "strasse" and "Straße" tokenize identically, as do "cafe" and
// "Café".
//
// Input is expected to be lowercased already. Folding runs before stop-word
// filtering, so stop-word lists may use either spelling.
func foldGerman(s string) string {
	if !needsFold(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case 'ä':
			b.WriteString("ae")
		case 'ö':
			b.WriteString("oe")
		case 'ü':
			b.WriteString("ue")
		case 'ß':
			b.WriteString("ss")
		case 'é', 'è', 'ê':
			b.WriteByte('e')
		case 'à', 'á', 'â':
			b.WriteByte('a')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// needsFold reports whether s contains any rune the fold would rewrite,
// letting the common all-ASCII case skip the allocation.
func needsFold(s string) bool {
	for _, r := range s {
		switch r {
		case 'ä', 'ö', 'ü', 'ß', 'é', 'è', 'ê', 'à', 'á', 'â':
			return true
		}
	}
	return false
}
