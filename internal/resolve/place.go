// Package resolve turns guest text into place and area slot values.
package resolve

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/metrics"
	"github.com/user/conserje/internal/textnorm"
)

// PlaceSource tells which rule produced a place.
type PlaceSource string

const (
	SourceRoom           PlaceSource = "room"
	SourceExact          PlaceSource = "exact"
	SourcePhrase         PlaceSource = "phrase"
	SourceFuzzy          PlaceSource = "fuzzy"
	SourceInformal       PlaceSource = "informal"
	SourceVerbatimSignal PlaceSource = "verbatim_signal"
	SourceVerbatim       PlaceSource = "verbatim"
)

// Fuzzy acceptance thresholds.
const (
	FuzzyAutoAccept  = 0.90
	FuzzyUniqueMin   = 0.75
	FuzzyUniqueGap   = 0.10
	FuzzySuggestMin  = 0.50
	informalMinScore = 0.6

	maxFuzzyWords    = 5
	maxVerbatimWords = 6
	maxSuggestions   = 3
)

// genericQualifiers are words that name a building only in combination with a
// noun; alone they must not beat a strong signal.
var genericQualifiers = textnorm.Set(
	"principal", "central", "general", "norte", "sur", "este", "oeste",
	"main", "grande", "nuevo", "nueva", "alta", "baja",
)

// notPlaces are replies that must never be stored verbatim as a place.
var notPlaces = textnorm.Set(
	"si", "sí", "no", "ok", "okay", "vale", "claro", "gracias", "hola", "listo",
	"nada", "ninguno", "ya", "aja", "bueno", "perfecto", "primero", "segundo",
)

// PlaceResult is the outcome of a resolution attempt. Committed results carry
// a label; uncommitted ones may carry ranked suggestions.
type PlaceResult struct {
	Committed   bool
	Label       string
	Building    string
	Floor       string
	Room        string
	Source      PlaceSource
	Suggestions []string
}

// PlaceQuery is the input to Resolve. Candidate is the explicit value to look
// up (e.g. an interpreter op); it defaults to Text. Strong signals are
// searched in both.
type PlaceQuery struct {
	Text      string
	Candidate string
}

// PlaceOptions controls the fallbacks Resolve may use.
type PlaceOptions struct {
	// AllowVerbatim permits committing the sanitized candidate itself when
	// nothing in the catalog matches.
	AllowVerbatim bool
	// UseInformal permits consulting the informal place classifier.
	UseInformal bool
}

// InformalResult is the informal classifier's answer.
type InformalResult struct {
	Found          bool
	CanonicalLabel string
	Confidence     float64
}

// InformalClassifier maps colloquial place descriptions onto catalog labels.
type InformalClassifier interface {
	ClassifyPlace(ctx context.Context, text string, candidates []string) (InformalResult, error)
}

// IndexSource yields the current place index (nil when none is loaded).
type IndexSource interface {
	Index() *catalog.Index
}

// PlaceResolver implements the place slot priority: strong signal against the
// room index, exact label/alias, phrase scan, fuzzy, informal classifier, then
// the verbatim fallbacks.
type PlaceResolver struct {
	catalog  IndexSource
	informal InformalClassifier
	logger   *zap.Logger
}

// NewPlaceResolver creates a resolver. informal may be nil.
func NewPlaceResolver(src IndexSource, informal InformalClassifier, logger *zap.Logger) *PlaceResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaceResolver{catalog: src, informal: informal, logger: logger.Named("place")}
}

// Catalog returns the current place index, or catalog.ErrNoCatalog when none
// is loaded. Without an index only strong signals and verbatim answers resolve.
func (r *PlaceResolver) Catalog() (*catalog.Index, error) {
	if r.catalog == nil {
		return nil, catalog.ErrNoCatalog
	}
	ix := r.catalog.Index()
	if ix == nil {
		return nil, catalog.ErrNoCatalog
	}
	return ix, nil
}

// Resolve runs the resolution ladder on q.
func (r *PlaceResolver) Resolve(ctx context.Context, q PlaceQuery, opts PlaceOptions) PlaceResult {
	candidateText := q.Candidate
	if strings.TrimSpace(candidateText) == "" {
		candidateText = q.Text
	}

	key, verbatim, strong := catalog.StrongSignal(candidateText)
	if !strong {
		key, verbatim, strong = catalog.StrongSignal(q.Text)
	}

	ix, err := r.Catalog()
	if err != nil {
		r.logger.Debug("resolving without catalog", zap.Error(err))
	}

	if strong && ix != nil {
		if e, ok := ix.Room(key); ok {
			return fromEntry(e, SourceRoom)
		}
	}

	candidate := textnorm.Sanitize(candidateText)
	var suggestions []string

	if candidate != "" && ix != nil {
		if e, ok := ix.Exact(candidate); ok {
			if !(strong && isGeneric(candidate)) {
				return fromEntry(e, SourceExact)
			}
			r.logger.Debug("generic qualifier yields to strong signal",
				zap.String("candidate", candidate), zap.String("signal", verbatim))
		}

		if !strong {
			if e, ok := ix.FindPhrase(candidateText); ok {
				return fromEntry(e, SourcePhrase)
			}

			if textnorm.WordCount(candidate) <= maxFuzzyWords {
				matches := ix.Fuzzy(candidate, maxSuggestions+1)
				if e, ok := acceptFuzzy(matches); ok {
					return fromEntry(e, SourceFuzzy)
				}
				for _, m := range matches {
					if m.Score >= FuzzySuggestMin && len(suggestions) < maxSuggestions {
						suggestions = append(suggestions, m.Entry.Label)
					}
				}
			}

			if opts.UseInformal && r.informal != nil {
				if e, ok := r.classifyInformal(ctx, candidateText, ix); ok {
					return fromEntry(e, SourceInformal)
				}
			}
		}
	}

	if strong {
		res := PlaceResult{Committed: true, Label: verbatim, Source: SourceVerbatimSignal}
		if !strings.HasPrefix(key, "villa") {
			res.Room = key
		}
		return res
	}

	if opts.AllowVerbatim && candidate != "" &&
		textnorm.WordCount(candidate) <= maxVerbatimWords && !textnorm.MatchesAny(candidate, notPlaces) {
		return PlaceResult{Committed: true, Label: titleCase(candidate), Source: SourceVerbatim}
	}

	return PlaceResult{Suggestions: suggestions}
}

// acceptFuzzy applies the auto-accept rule: a score at or above
// FuzzyAutoAccept, or a unique best of at least FuzzyUniqueMin with a margin
// of FuzzyUniqueGap over the runner-up.
func acceptFuzzy(matches []catalog.Match) (*catalog.Entry, bool) {
	if len(matches) == 0 {
		return nil, false
	}
	best := matches[0]
	if best.Score >= FuzzyAutoAccept {
		return best.Entry, true
	}
	if best.Score < FuzzyUniqueMin {
		return nil, false
	}
	if len(matches) > 1 && best.Score-matches[1].Score < FuzzyUniqueGap {
		return nil, false
	}
	return best.Entry, true
}

func (r *PlaceResolver) classifyInformal(ctx context.Context, text string, ix *catalog.Index) (*catalog.Entry, bool) {
	res, err := r.informal.ClassifyPlace(ctx, text, ix.Labels())
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues(metrics.CollaboratorInformal).Inc()
		r.logger.Warn("informal place classifier failed",
			zap.String("collaborator", metrics.CollaboratorInformal), zap.Error(err))
		return nil, false
	}
	if !res.Found || res.Confidence < informalMinScore {
		return nil, false
	}
	e, ok := ix.Exact(res.CanonicalLabel)
	if !ok {
		r.logger.Debug("informal place not in catalog", zap.String("label", res.CanonicalLabel))
		return nil, false
	}
	return e, true
}

func isGeneric(candidate string) bool {
	for _, w := range textnorm.Tokens(candidate) {
		if _, ok := genericQualifiers[w]; !ok {
			return false
		}
	}
	return true
}

func fromEntry(e *catalog.Entry, src PlaceSource) PlaceResult {
	return PlaceResult{
		Committed: true,
		Label:     e.Label,
		Building:  e.Building,
		Floor:     e.Floor,
		Room:      e.RoomNumber,
		Source:    src,
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
