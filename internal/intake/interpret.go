package intake

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/metrics"
	"github.com/user/conserje/internal/resolve"
	"github.com/user/conserje/internal/textnorm"
	"github.com/user/conserje/internal/types"
)

type disambiguation int

const (
	continueNormally disambiguation = iota
	foldAsDetail
	turnHandled
)

// interpretAndApply runs the general path: interpreter, disambiguation, op
// application, slot back-fill and next action.
func (e *Engine) interpretAndApply(ctx context.Context, t *turn) string {
	s := t.sess
	interp, ok := e.interpret(ctx, t)

	if ok && len(interp.Ops) == 0 && len(t.ev.Images) == 0 &&
		isSmalltalkAnalysis(interp.Analysis) && !s.HasStructuredContent() {
		e.say(ctx, t, msgGreeting)
		return OutcomeGuard
	}

	outcome := OutcomeApplied
	switch e.disambiguate(ctx, t, interp) {
	case turnHandled:
		return OutcomeDisambiguation
	case foldAsDetail:
		appendDetail(&s.Draft, t.text)
		outcome = OutcomeDisambiguation
	default:
		ops := Order(Dedupe(interp.Ops))
		if slices.ContainsFunc(ops, func(op Op) bool { _, c := op.(Cancel); return c }) {
			return e.cancel(ctx, t)
		}
		for _, op := range ops {
			if err := e.applyOp(ctx, t, op); err != nil {
				t.log.Warn("operation skipped", zap.String("op", op.Kind()), zap.Error(err))
			}
		}
		e.fillDescription(ctx, t, len(ops) > 0)
	}

	e.backfill(ctx, t)
	e.nextAction(ctx, t)
	return outcome
}

func (e *Engine) interpret(ctx context.Context, t *turn) (Interpretation, bool) {
	if e.interpreter == nil || t.text == "" {
		return Interpretation{}, false
	}
	in := TurnInput{Text: t.text, FocusMode: t.sess.Mode, Draft: t.sess.Draft, History: t.sess.History}
	interp, err := e.interpreter.Interpret(ctx, in)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues(metrics.CollaboratorInterpreter).Inc()
		t.log.Warn("turn interpreter failed",
			zap.String("collaborator", metrics.CollaboratorInterpreter), zap.Error(err))
		return Interpretation{}, false
	}
	return interp, true
}

// fillDescription makes sure the guest's words land in the draft when the
// interpreter did not place them there.
func (e *Engine) fillDescription(ctx context.Context, t *turn, hadOps bool) {
	d := &t.sess.Draft
	if t.text == "" || e.isPlaceOnly(ctx, t.text) {
		return
	}
	if d.Descripcion == "" {
		d.Descripcion = t.text
		if d.DescripcionOriginal == "" {
			d.DescripcionOriginal = t.text
		}
		return
	}
	if !hadOps {
		appendDetail(d, t.text)
	}
}

// isPlaceOnly reports whether text is nothing but a place reference.
func (e *Engine) isPlaceOnly(ctx context.Context, text string) bool {
	if mentionsIncident(text) || textnorm.WordCount(textnorm.Sanitize(text)) > 3 {
		return false
	}
	res := e.places.Resolve(ctx, resolve.PlaceQuery{Text: text}, resolve.PlaceOptions{})
	switch res.Source {
	case resolve.SourceRoom, resolve.SourceExact, resolve.SourceVerbatimSignal:
		return true
	}
	return false
}

// disambiguate decides whether a turn on top of a structured draft is a
// place correction, a competing incident, or a continuation.
func (e *Engine) disambiguate(ctx context.Context, t *turn, interp Interpretation) disambiguation {
	s := t.sess
	d := &s.Draft
	if d.Lugar == "" && d.AreaDestino == "" {
		return continueNormally
	}
	_, _, strong := catalog.StrongSignal(t.text)

	if interp.Meta.IsPlaceCorrectionOnly && strong && d.Lugar != "" {
		res := e.places.Resolve(ctx, resolve.PlaceQuery{Text: t.text}, resolve.PlaceOptions{})
		if res.Committed && !samePlace(res.Label, d.Lugar) {
			d.AddNote("lugar corregido: " + d.Lugar + " -> " + res.Label)
			t.log.Info("place corrected", zap.String("from", d.Lugar), zap.String("to", res.Label))
			setPlace(d, res)
			e.nextAction(ctx, t)
			return turnHandled
		}
	}

	if !interp.Meta.IsNewIncidentCandidate && !(strong && mentionsIncident(t.text)) {
		return continueNormally
	}

	res := e.places.Resolve(ctx, resolve.PlaceQuery{Text: t.text}, resolve.PlaceOptions{})
	newArea, _, _ := e.areas.Suggest(ctx, t.text, nil, nil)

	differentPlace := res.Committed && d.Lugar != "" && !samePlace(res.Label, d.Lugar)
	sameSpot := !res.Committed || d.Lugar == "" || samePlace(res.Label, d.Lugar)
	differentArea := newArea != "" && d.AreaDestino != "" && newArea != d.AreaDestino

	if differentPlace || (sameSpot && differentArea) {
		s.CandidateText = t.text
		s.CandidateArea = newArea
		s.Mode = types.ModeChooseIncidentVersion
		t.log.Info("competing incident",
			zap.Bool("different_place", differentPlace),
			zap.String("candidate_place", res.Label),
			zap.String("candidate_area", newArea),
		)
		e.say(ctx, t, chooseVersionText(d, t.text))
		return turnHandled
	}
	return foldAsDetail
}

// applyOp applies one mutation. Gate ops are acknowledged here; the preview
// itself is rendered by nextAction once both slots are filled.
func (e *Engine) applyOp(ctx context.Context, t *turn, op Op) error {
	d := &t.sess.Draft
	switch o := op.(type) {
	case SetField:
		return e.applySetField(ctx, t, o)
	case AddArea:
		code, ok := e.areas.Canonical(o.Area)
		if !ok {
			d.AddNote("área desconocida: " + o.Area)
			return nil
		}
		if d.AreaDestino == "" {
			e.commitArea(t, code)
		} else {
			d.AddArea(code)
		}
	case RemoveArea:
		code, ok := e.areas.Canonical(o.Area)
		if !ok {
			return nil
		}
		d.Areas = slices.DeleteFunc(d.Areas, func(a string) bool { return a == code })
		if d.AreaDestino == code {
			d.AreaDestino = ""
			if len(d.Areas) > 0 {
				d.AreaDestino = d.Areas[0]
			}
		}
	case ReplaceAreas:
		var codes []string
		for _, a := range o.Areas {
			if code, ok := e.areas.Canonical(a); ok && !slices.Contains(codes, code) {
				codes = append(codes, code)
			}
		}
		if len(codes) == 0 {
			return nil
		}
		d.Areas = codes
		d.AreaDestino = codes[0]
		t.sess.ClearSuggestedArea()
	case AppendDetail:
		appendDetail(d, o.Text)
	case ShowPreview, Confirm, Cancel:
	default:
		return ErrUnknownOp
	}
	return nil
}

func (e *Engine) applySetField(ctx context.Context, t *turn, o SetField) error {
	d := &t.sess.Draft
	switch o.Field {
	case FieldLugar:
		if o.Value == "" {
			d.ClearPlace()
			return nil
		}
		res := e.places.Resolve(ctx,
			resolve.PlaceQuery{Text: t.text, Candidate: o.Value},
			resolve.PlaceOptions{AllowVerbatim: true, UseInformal: e.cfg.UseInformalPlace})
		if !res.Committed {
			t.placeSuggestions = res.Suggestions
			return nil
		}
		setPlace(d, res)
	case FieldDescripcion:
		if o.Value == "" {
			return nil
		}
		d.Descripcion = o.Value
		if d.DescripcionOriginal == "" {
			d.DescripcionOriginal = t.text
		}
	case FieldAreaDestino:
		code, ok := e.areas.Canonical(o.Value)
		if !ok {
			d.AddNote("área desconocida: " + o.Value)
			return nil
		}
		e.commitArea(t, code)
	case FieldBuilding:
		d.Building = o.Value
	case FieldFloor:
		d.Floor = o.Value
	case FieldRoom:
		d.Room = o.Value
	case FieldInterpretacion:
		if o.Value != "" && d.Interpretacion == "" {
			d.Interpretacion = o.Value
		} else if o.Value != "" {
			d.Interpretacion += "; " + o.Value
		}
	default:
		return ErrUnknownOp
	}
	return nil
}

// backfill fills the place automatically when the text identifies it with
// confidence, and records an area suggestion without committing it.
func (e *Engine) backfill(ctx context.Context, t *turn) {
	s := t.sess
	d := &s.Draft
	if d.Lugar == "" && t.text != "" {
		res := e.places.Resolve(ctx, resolve.PlaceQuery{Text: t.text},
			resolve.PlaceOptions{UseInformal: e.cfg.UseInformalPlace})
		if res.Committed {
			setPlace(d, res)
			t.log.Info("place back-filled", zap.String("lugar", res.Label), zap.String("source", string(res.Source)))
		} else if len(res.Suggestions) > 0 {
			t.placeSuggestions = res.Suggestions
		}
	}

	if d.AreaDestino != "" || t.text == "" {
		return
	}
	// Text may replace a suggestion taken from a photo, not one taken from text.
	if s.SuggestedArea != "" && s.SuggestedAreaSource != string(resolve.AreaFromVision) {
		return
	}
	code, src, ok := e.areas.Suggest(ctx, t.text, nil, s.DeclinedAreas)
	if !ok {
		return
	}
	if s.SuggestedArea != "" && s.SuggestedArea != code {
		t.log.Info("area suggestion replaced",
			zap.String("from", s.SuggestedArea), zap.String("to", code), zap.String("source", string(src)))
	}
	s.SuggestArea(code, string(src))
}
