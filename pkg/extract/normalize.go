package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s, strips diacritics and apostrophes, and turns every other
// non-alphanumeric rune into a single space.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	var b strings.Builder
	b.Grow(len(out))
	space := true
	for _, r := range strings.ToLower(out) {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func words(s string) []string {
	return strings.Fields(fold(s))
}

// containsPhrase reports whether folded phrase occurs in folded text on word
// boundaries.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "or": {}, "i": {}, "id": {}, "im": {}, "would": {},
	"like": {}, "want": {}, "please": {}, "think": {}, "maybe": {}, "my": {}, "is": {}, "it": {},
	"its": {}, "that": {}, "go": {}, "with": {}, "for": {}, "of": {}, "to": {}, "me": {}, "be": {},
	"choose": {}, "pick": {}, "take": {}, "prefer": {}, "option": {},
}

func isStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}
