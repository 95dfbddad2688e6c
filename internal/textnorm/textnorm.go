// Package textnorm normalizes guest text for catalog and vocabulary matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips diacritics and collapses whitespace.
// "Habitación  1311" becomes "habitacion 1311".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// Tokens splits the folded form of s into letter/digit runs.
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// WordCount returns the number of tokens in s.
func WordCount(s string) int {
	return len(Tokens(s))
}

// Simplify folds s and replaces punctuation with spaces so phrase matching
// sees only letters, digits and single spaces.
func Simplify(s string) string {
	return strings.Join(Tokens(s), " ")
}

// shortPhrase is the length at or under which a phrase must match whole words.
const shortPhrase = 4

// ContainsPhrase reports whether phrase occurs in text. Both are expected to
// be Simplify'd already. A phrase always has to start a word; phrases of
// shortPhrase characters or fewer must also end one, so "albercas" matches
// "alberca" but "bueno hay" never matches "no hay".
func ContainsPhrase(text, phrase string) bool {
	return match(text, phrase, len([]rune(phrase)) <= shortPhrase)
}

// ContainsWord reports whether phrase occurs in text on word boundaries.
func ContainsWord(text, phrase string) bool {
	return match(text, phrase, true)
}

func match(text, phrase string, wholeWord bool) bool {
	if phrase == "" {
		return false
	}
	from := 0
	for {
		i := strings.Index(text[from:], phrase)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(phrase)
		if boundaryBefore(text, start) && (!wholeWord || boundaryAfter(text, end)) {
			return true
		}
		from = start + 1
		if from >= len(text) {
			return false
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := lastRune(s[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := []rune(s[i:])[0]
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func lastRune(s string) rune {
	rs := []rune(s)
	return rs[len(rs)-1]
}

// MatchesAny reports whether the folded text equals one of the folded phrases.
func MatchesAny(text string, phrases map[string]struct{}) bool {
	_, ok := phrases[Simplify(text)]
	return ok
}

// Set builds a lookup set of Simplify'd phrases.
func Set(phrases ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		set[Simplify(p)] = struct{}{}
	}
	return set
}
