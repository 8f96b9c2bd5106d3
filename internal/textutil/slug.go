// Package textutil holds small text helpers shared by the pipeline and CLI.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugRunes = 60

// Slug turns a clip title into a file-name fragment: accents are folded,
// anything but letters, digits, '_' and '-' is dropped and whitespace runs
// become a single '_'. An empty result becomes "clip".
func Slug(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	pendingSpace := false
	count := 0
	for _, r := range strings.TrimSpace(folded) {
		if count >= maxSlugRunes {
			break
		}
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '-':
		default:
			continue
		}
		if pendingSpace && b.Len() > 0 {
			if count+2 > maxSlugRunes {
				break
			}
			b.WriteByte('_')
			count++
		}
		pendingSpace = false
		b.WriteRune(r)
		count++
	}
	if b.Len() == 0 {
		return "clip"
	}
	return b.String()
}
