package catalog

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/user/conserje/internal/textnorm"
)

// Area is an operational team incidents are routed to.
type Area struct {
	Code         string
	Name         string
	Aliases      []string
	Keywords     []string
	FolioPrefix  string
	Destinations []string
}

type areaName struct {
	text string
	code string
}

// Areas is the read-only area catalog.
type Areas struct {
	list   []Area
	byCode map[string]int
	lookup map[string]string
	names  []areaName
}

// NewAreas validates and indexes areas. Codes are stored lower-cased.
func NewAreas(areas []Area) (*Areas, error) {
	a := &Areas{
		byCode: make(map[string]int, len(areas)),
		lookup: make(map[string]string),
	}
	for _, area := range areas {
		area.Code = strings.ToLower(strings.TrimSpace(area.Code))
		if area.Code == "" {
			return nil, fmt.Errorf("area without code: %q", area.Name)
		}
		if _, dup := a.byCode[area.Code]; dup {
			return nil, fmt.Errorf("duplicate area code: %s", area.Code)
		}
		if area.Name == "" {
			area.Name = area.Code
		}
		a.byCode[area.Code] = len(a.list)
		a.list = append(a.list, area)

		for _, n := range append([]string{area.Code, area.Name}, area.Aliases...) {
			key := textnorm.Simplify(n)
			if key == "" {
				continue
			}
			if _, taken := a.lookup[key]; taken {
				continue
			}
			a.lookup[key] = area.Code
			a.names = append(a.names, areaName{text: key, code: area.Code})
		}
	}
	sort.SliceStable(a.names, func(i, j int) bool {
		return len(a.names[i].text) > len(a.names[j].text)
	})
	return a, nil
}

// List returns the areas in configuration order.
func (a *Areas) List() []Area { return a.list }

// Codes returns every area code in configuration order.
func (a *Areas) Codes() []string {
	codes := make([]string, len(a.list))
	for i, area := range a.list {
		codes[i] = area.Code
	}
	return codes
}

// Get returns the area for code.
func (a *Areas) Get(code string) (Area, bool) {
	i, ok := a.byCode[strings.ToLower(code)]
	if !ok {
		return Area{}, false
	}
	return a.list[i], true
}

// Name returns the display name for code, or code itself when unknown.
func (a *Areas) Name(code string) string {
	if area, ok := a.Get(code); ok {
		return area.Name
	}
	return code
}

// Canonical maps a code, name or alias onto its area code.
func (a *Areas) Canonical(v string) (string, bool) {
	code, ok := a.lookup[textnorm.Simplify(v)]
	return code, ok
}

// FromText finds an area explicitly named in text. Names are matched on word
// boundaries, longest first, so short codes never match inside other words.
func (a *Areas) FromText(text string) (string, bool) {
	simple := textnorm.Simplify(text)
	for _, n := range a.names {
		if textnorm.ContainsWord(simple, n.text) {
			return n.code, true
		}
	}
	return "", false
}

// FolioPrefix returns the folio prefix for code: the configured prefix, or
// the upper-cased letters of the code padded to two and cut to five.
func (a *Areas) FolioPrefix(code string) string {
	if area, ok := a.Get(code); ok && area.FolioPrefix != "" {
		return normalizePrefix(area.FolioPrefix)
	}
	return normalizePrefix(code)
}

// Folio formats the human-readable folio for the seq-th incident of code.
func (a *Areas) Folio(code string, seq int64) string {
	return fmt.Sprintf("%s-%05d", a.FolioPrefix(code), seq)
}

func normalizePrefix(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(textnorm.Fold(s)) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	p := b.String()
	for len(p) < 2 {
		p += "X"
	}
	if len(p) > 5 {
		p = p[:5]
	}
	return p
}

// Destinations returns the configured destinations of code.
func (a *Areas) Destinations(code string) []string {
	if area, ok := a.Get(code); ok {
		return area.Destinations
	}
	return nil
}

// Keywords returns the detection keywords per area code.
func (a *Areas) Keywords() map[string][]string {
	out := make(map[string][]string, len(a.list))
	for _, area := range a.list {
		if len(area.Keywords) > 0 {
			out[area.Code] = area.Keywords
		}
	}
	return out
}

// Menu renders the area names for prompts, e.g. "Mantenimiento, Sistemas".
func (a *Areas) Menu() string {
	parts := make([]string, len(a.list))
	for i, area := range a.list {
		name := []rune(area.Name)
		if len(name) > 0 {
			name[0] = unicode.ToUpper(name[0])
		}
		parts[i] = string(name)
	}
	return strings.Join(parts, ", ")
}
