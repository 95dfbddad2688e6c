// Package catalog indexes the hotel's places and operational areas.
//
// A place index is built once from a list of entries and is read-only after
// that; concurrent readers need no locking. Reloading builds a fresh index and
// swaps it in (see Loader).
package catalog

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/user/conserje/internal/textnorm"
)

// ErrNoCatalog is returned when no place catalog has been loaded.
var ErrNoCatalog = errors.New("place catalog not loaded")

// Entry is one place record.
type Entry struct {
	Label      string   `yaml:"label" json:"label"`
	Aliases    []string `yaml:"aliases" json:"aliases"`
	RoomNumber string   `yaml:"room_number" json:"room_number"`
	Building   string   `yaml:"building" json:"building"`
	Floor      string   `yaml:"floor" json:"floor"`
}

// Match is a fuzzy lookup result.
type Match struct {
	Entry *Entry
	Score float64
}

type phrase struct {
	text  string
	entry *Entry
}

var (
	roomPattern  = regexp.MustCompile(`\b(\d{4})\b`)
	villaPattern = regexp.MustCompile(`\bvilla\s*#?\s*(\d{1,3})\b`)
)

// Index provides room-number lookup, exact label/alias lookup, a phrase scan
// over normalized labels and aliases, and fuzzy matching.
type Index struct {
	entries []*Entry
	rooms   map[string]*Entry
	exact   map[string]*Entry
	phrases []phrase

	duplicates []string
}

// NewIndex builds an index from entries. Later entries never shadow earlier
// ones; collisions are reported by Duplicates.
func NewIndex(entries []Entry) *Index {
	ix := &Index{
		rooms: make(map[string]*Entry),
		exact: make(map[string]*Entry),
	}
	for i := range entries {
		e := entries[i]
		if strings.TrimSpace(e.Label) == "" {
			continue
		}
		ep := &e
		ix.entries = append(ix.entries, ep)

		if room := strings.TrimSpace(e.RoomNumber); room != "" {
			ix.addRoom(room, ep)
		}
		if m := villaPattern.FindStringSubmatch(textnorm.Simplify(e.Label)); m != nil {
			ix.addRoom(villaKey(m[1]), ep)
		}

		for _, name := range append([]string{e.Label}, e.Aliases...) {
			key := textnorm.Simplify(name)
			if key == "" {
				continue
			}
			if prev, ok := ix.exact[key]; ok {
				if prev != ep {
					ix.duplicates = append(ix.duplicates, key)
				}
				continue
			}
			ix.exact[key] = ep
			ix.phrases = append(ix.phrases, phrase{text: key, entry: ep})
		}
	}

	// Longest phrases first so "lobby principal" wins over "lobby".
	sort.SliceStable(ix.phrases, func(i, j int) bool {
		return len(ix.phrases[i].text) > len(ix.phrases[j].text)
	})
	return ix
}

func (ix *Index) addRoom(key string, e *Entry) {
	if prev, ok := ix.rooms[key]; ok && prev != e {
		ix.duplicates = append(ix.duplicates, key)
		return
	}
	ix.rooms[key] = e
}

func villaKey(n string) string {
	return "villa " + strings.TrimLeft(n, "0")
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Rooms returns the number of room-number and villa keys.
func (ix *Index) Rooms() int { return len(ix.rooms) }

// Phrases returns the number of label/alias phrases.
func (ix *Index) Phrases() int { return len(ix.phrases) }

// Duplicates lists keys that more than one entry claimed.
func (ix *Index) Duplicates() []string { return ix.duplicates }

// Labels returns every entry label in catalog order.
func (ix *Index) Labels() []string {
	labels := make([]string, len(ix.entries))
	for i, e := range ix.entries {
		labels[i] = e.Label
	}
	return labels
}

// StrongSignal returns the strong lexical place signal in text: a "villa N"
// pattern or a 4-digit room token, in that order. The returned key is the
// form Room expects.
func StrongSignal(text string) (key, verbatim string, ok bool) {
	simple := textnorm.Simplify(text)
	if m := villaPattern.FindStringSubmatch(simple); m != nil {
		return villaKey(m[1]), "Villa " + strings.TrimLeft(m[1], "0"), true
	}
	if m := roomPattern.FindStringSubmatch(simple); m != nil {
		return m[1], m[1], true
	}
	return "", "", false
}

// Room looks up a strong-signal key.
func (ix *Index) Room(key string) (*Entry, bool) {
	e, ok := ix.rooms[key]
	return e, ok
}

// Exact looks up a label or alias.
func (ix *Index) Exact(candidate string) (*Entry, bool) {
	e, ok := ix.exact[textnorm.Simplify(candidate)]
	return e, ok
}

// FindPhrase scans text for the longest label or alias it contains.
func (ix *Index) FindPhrase(text string) (*Entry, bool) {
	simple := textnorm.Simplify(text)
	for _, p := range ix.phrases {
		if textnorm.ContainsPhrase(simple, p.text) {
			return p.entry, true
		}
	}
	return nil, false
}

// Fuzzy ranks entries by their best label/alias similarity to candidate.
// At most limit matches are returned, best first.
func (ix *Index) Fuzzy(candidate string, limit int) []Match {
	key := textnorm.Simplify(candidate)
	if key == "" {
		return nil
	}
	best := make(map[*Entry]float64)
	for _, p := range ix.phrases {
		score := textnorm.Similarity(key, p.text)
		if score > best[p.entry] {
			best[p.entry] = score
		}
	}

	matches := make([]Match, 0, len(best))
	for _, e := range ix.entries {
		if score, ok := best[e]; ok && score > 0 {
			matches = append(matches, Match{Entry: e, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
