package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizePersonName normalizes a name for comparison (lowercase, no diacritics, spaces for dashes and underscores).
func NormalizePersonName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// Slug turns a person name into the identity prefix used for gallery records
// ("Jan Novák" -> "jan-novak").
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range NormalizePersonName(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		case r == '\'' || r == '’':
		default:
			dash = true
		}
	}
	return b.String()
}

// DisplayName turns a gallery directory name into a human readable name
// ("jan_novak" -> "jan novak"). Diacritics and case are kept.
func DisplayName(dir string) string {
	dir = strings.NewReplacer("_", " ", "-", " ").Replace(dir)
	return strings.Join(strings.Fields(dir), " ")
}
