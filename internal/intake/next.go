package intake

import (
	"context"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/types"
)

// nextAction picks the follow-up for the draft's slot state: a preview when
// both slots are filled, otherwise a question for the missing slot. The place
// is always asked before the area.
func (e *Engine) nextAction(ctx context.Context, t *turn) {
	s := t.sess
	d := &s.Draft
	if s.Mode == types.ModeChooseIncidentVersion {
		e.say(ctx, t, msgChooseReprompt)
		return
	}
	switch {
	case d.Ready():
		s.Mode = types.ModeConfirm
		e.say(ctx, t, RenderPreview(d, e.areas.Areas()))
	case d.Lugar == "":
		e.askPlace(ctx, t)
	default:
		e.suggestOrAskArea(ctx, t)
	}
}

// askPlace asks where the problem is, at most once per cooldown.
func (e *Engine) askPlace(ctx context.Context, t *turn) {
	s := t.sess
	s.Mode = types.ModeAskPlace
	if !s.LastPlacePromptAt.IsZero() && t.now.Sub(s.LastPlacePromptAt) < e.cfg.PlacePromptCooldown {
		t.log.Debug("place prompt suppressed by cooldown",
			zap.Duration("since_last", t.now.Sub(s.LastPlacePromptAt)))
		return
	}
	s.LastPlacePromptAt = t.now
	e.say(ctx, t, askPlaceText(t.placeSuggestions))
}

// suggestOrAskArea offers the best area candidate or asks for one directly.
// Vision hints are only used when no text signal produced a candidate.
func (e *Engine) suggestOrAskArea(ctx context.Context, t *turn) {
	s := t.sess
	code := s.SuggestedArea
	if code == "" {
		if c, src, ok := e.areas.Suggest(ctx, "", s.VisionAreaHints, s.DeclinedAreas); ok {
			s.SuggestArea(c, string(src))
			code = c
		}
	}
	if code != "" {
		s.Mode = types.ModeConfirmAreaSuggestion
		e.say(ctx, t, suggestAreaText(e.areas.Areas(), code))
		return
	}
	s.Mode = types.ModeAskArea
	e.say(ctx, t, askAreaText(e.areas.Areas()))
}
