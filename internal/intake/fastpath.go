package intake

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/resolve"
	"github.com/user/conserje/internal/textnorm"
	"github.com/user/conserje/internal/types"
)

const maxPlaceAnswerWords = 6

// fastPath answers the pending question of the current mode without calling
// the interpreter. It returns true when the turn was fully handled.
func (e *Engine) fastPath(ctx context.Context, t *turn) bool {
	if t.text == "" {
		return false
	}
	switch t.sess.Mode {
	case types.ModeAskPlace:
		return e.fastPlace(ctx, t)
	case types.ModeAskArea:
		return e.fastArea(ctx, t)
	case types.ModeConfirmAreaSuggestion:
		return e.fastSuggestion(ctx, t)
	case types.ModeChooseIncidentVersion:
		return e.fastChoose(ctx, t)
	}
	return false
}

func (e *Engine) fastPlace(ctx context.Context, t *turn) bool {
	// A sentence describing a problem is not a place answer; let the general
	// pipeline read it (back-fill still catches any place in it).
	if mentionsIncident(t.text) {
		return false
	}
	opts := resolve.PlaceOptions{
		AllowVerbatim: textnorm.WordCount(t.text) <= maxPlaceAnswerWords,
		UseInformal:   e.cfg.UseInformalPlace,
	}
	res := e.places.Resolve(ctx, resolve.PlaceQuery{Text: t.text}, opts)
	if !res.Committed {
		t.placeSuggestions = res.Suggestions
		return false
	}
	setPlace(&t.sess.Draft, res)
	t.log.Info("place resolved", zap.String("lugar", res.Label), zap.String("source", string(res.Source)))
	e.nextAction(ctx, t)
	return true
}

func (e *Engine) fastArea(ctx context.Context, t *turn) bool {
	code, ok := e.areas.Canonical(t.text)
	if !ok {
		code, ok = e.areas.Named(t.text)
	}
	if !ok {
		code, ok = e.areas.Detect(ctx, t.text)
	}
	if !ok {
		return false
	}
	e.commitArea(t, code)
	e.nextAction(ctx, t)
	return true
}

func (e *Engine) fastSuggestion(ctx context.Context, t *turn) bool {
	s := t.sess
	switch {
	case IsAffirmative(t.text) && s.SuggestedArea != "":
		e.commitArea(t, s.SuggestedArea)
		e.nextAction(ctx, t)
		return true
	case IsNegative(t.text):
		if s.SuggestedArea != "" && !slices.Contains(s.DeclinedAreas, s.SuggestedArea) {
			s.DeclinedAreas = append(s.DeclinedAreas, s.SuggestedArea)
		}
		s.ClearSuggestedArea()
		s.Mode = types.ModeAskArea
		e.say(ctx, t, askAreaText(e.areas.Areas()))
		return true
	}

	code, ok := e.areas.Canonical(t.text)
	if !ok {
		code, ok = e.areas.Named(t.text)
	}
	if ok {
		e.commitArea(t, code)
		e.nextAction(ctx, t)
		return true
	}
	return false
}

func (e *Engine) fastChoose(ctx context.Context, t *turn) bool {
	s := t.sess
	switch {
	case textnorm.MatchesAny(t.text, chooseFirst):
		if s.CandidateText != "" {
			s.Draft.AddNote("descartado: " + s.CandidateText)
		}
		s.ClearCandidate()
		s.Mode = types.ModeNeutral
		e.say(ctx, t, msgKeptFirst)
		e.nextAction(ctx, t)
	case textnorm.MatchesAny(t.text, chooseSecond):
		e.rebuildFromCandidate(ctx, t)
		e.nextAction(ctx, t)
	default:
		e.say(ctx, t, msgChooseReprompt)
	}
	return true
}

// rebuildFromCandidate discards the current draft and starts a new one from
// the stored candidate text.
func (e *Engine) rebuildFromCandidate(ctx context.Context, t *turn) {
	s := t.sess
	candidate, candidateArea := s.CandidateText, s.CandidateArea
	previous := s.Draft.Summary()

	s.Draft = types.Draft{Descripcion: candidate, DescripcionOriginal: candidate}
	s.Draft.AddNote("reemplaza a: " + previous)
	s.PendingMedia = nil
	s.VisionAreaHints = nil
	s.ClearSuggestedArea()
	s.DeclinedAreas = nil
	s.LastPlacePromptAt = time.Time{}

	res := e.places.Resolve(ctx, resolve.PlaceQuery{Text: candidate}, resolve.PlaceOptions{UseInformal: e.cfg.UseInformalPlace})
	if res.Committed {
		setPlace(&s.Draft, res)
	}
	if candidateArea != "" {
		s.Draft.SetPrimaryArea(candidateArea)
	}
	s.ClearCandidate()
	s.Mode = types.ModeNeutral
	t.log.Info("draft rebuilt from new incident",
		zap.String("lugar", s.Draft.Lugar), zap.String("area", s.Draft.AreaDestino))
}

func (e *Engine) commitArea(t *turn, code string) {
	t.sess.Draft.SetPrimaryArea(code)
	t.sess.ClearSuggestedArea()
	t.log.Info("area committed", zap.String("area", code))
}
