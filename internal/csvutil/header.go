package csvutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const utf8BOM = "\uFEFF"

// StripBOM removes a leading UTF-8 byte order mark.
func StripBOM(s string) string {
	return strings.TrimPrefix(s, utf8BOM)
}

// NormalizeHeader folds a header cell into a lowercase ASCII key:
// "Remisión" becomes "remision", "EDAD 4 " becomes "edad_4" and
// "CARGA 1 (KG)" becomes "carga_1_kg". An empty result is returned as "".
func NormalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(StripBOM(s)))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// NormalizeHeaders normalizes every cell of a header row.
func NormalizeHeaders(h []string) []string {
	out := make([]string, len(h))
	for i, c := range h {
		out[i] = NormalizeHeader(c)
	}
	return out
}
