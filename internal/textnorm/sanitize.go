package textnorm

import (
	"strings"
	"unicode"
)

// fillerWords are dropped from the front of a place candidate.
var fillerWords = map[string]struct{}{
	"en": {}, "la": {}, "el": {}, "los": {}, "las": {}, "del": {}, "de": {}, "al": {},
	"es": {}, "esta": {}, "estoy": {}, "estamos": {}, "ubicado": {}, "ubicada": {},
	"habitacion": {}, "cuarto": {}, "hab": {}, "room": {}, "num": {}, "numero": {}, "no": {},
	"lugar": {}, "zona": {}, "area": {}, "the": {}, "in": {}, "at": {},
}

// noise characters stripped anywhere in a candidate.
const noise = "[](){}<>\"'«»“”‘’`*_"

// Sanitize cleans a free-text place answer down to the part worth looking up:
// bracket and quote noise and trailing punctuation are removed, then leading
// filler words ("en la habitación ...") are dropped. The result is folded.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(noise, r) {
			return ' '
		}
		return r
	}, s)
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})

	words := strings.Fields(Fold(s))
	for len(words) > 0 {
		w := strings.Trim(words[0], ".,:;#-")
		if _, ok := fillerWords[w]; !ok && w != "" {
			break
		}
		words = words[1:]
	}
	for i, w := range words {
		words[i] = strings.Trim(w, ",;:")
	}
	return strings.Join(words, " ")
}

// Levenshtein computes the edit distance between a and b over runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}

	previous := make([]int, len(ra)+1)
	for i := range previous {
		previous[i] = i
	}
	current := make([]int, len(ra)+1)
	for j := 1; j <= len(rb); j++ {
		current[0] = j
		for i := 1; i <= len(ra); i++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			current[i] = min(previous[i]+1, current[i-1]+1, previous[i-1]+cost)
		}
		previous, current = current, previous
	}
	return previous[len(ra)]
}

// Similarity is 1 - levenshtein/maxLen, in [0,1].
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}
