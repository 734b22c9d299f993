package docs

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify converts a path element into a URL-safe slug: accents are
// stripped via Unicode decomposition, everything non-alphanumeric
// collapses to single hyphens.
func Slugify(s string) string {
	// Decompose and drop combining marks (é -> e).
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if normalized, _, err := transform.String(t, s); err == nil {
		s = normalized
	}

	var b strings.Builder
	lastHyphen := true // suppress leading hyphens
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "page"
	}
	return out
}
