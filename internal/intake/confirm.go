package intake

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/types"
)

// confirmGate reads a reply to the preview. Only the fixed affirmative set
// finalizes; bare short numbers and anything unrecognised re-prompt without
// touching the draft or mode.
func (e *Engine) confirmGate(ctx context.Context, t *turn) string {
	switch {
	case IsAmbiguousNumber(t.text):
		e.say(ctx, t, msgConfirmReprompt)
		return OutcomeReprompt
	case IsAffirmative(t.text):
		return e.finalize(ctx, t)
	case IsCancel(t.text):
		return e.cancel(ctx, t)
	case IsNegative(t.text):
		t.sess.Mode = types.ModeNeutral
		e.say(ctx, t, msgWhatToCorrect)
		return OutcomeApplied
	}
	e.say(ctx, t, msgConfirmReprompt)
	return OutcomeReprompt
}

func (e *Engine) cancel(ctx context.Context, t *turn) string {
	t.cleared = true
	t.log.Info("report cancelled")
	e.say(ctx, t, msgCancelled)
	return OutcomeCancelled
}

func (e *Engine) finalize(ctx context.Context, t *turn) string {
	report, err := e.finalizer.Finalize(ctx, t.sess, t.ev.UserID)
	if errors.Is(err, ErrMissingPlace) || errors.Is(err, ErrMissingArea) {
		t.log.Warn("finalize preconditions not met", zap.Error(err))
		t.sess.Mode = types.ModeNeutral
		e.nextAction(ctx, t)
		return OutcomeDetour
	}
	if err != nil {
		// Finalize only fails on preconditions; keep the draft if that changes.
		t.log.Error("finalize failed", zap.Error(err))
		e.say(ctx, t, msgConfirmReprompt)
		return OutcomeReprompt
	}

	t.cleared = true
	t.log.Info("incident finalized",
		zap.String("incident_id", string(report.Ref.ID)),
		zap.String("folio", report.Ref.Folio),
		zap.Int("targets", len(report.Targets)),
	)
	e.say(ctx, t, report.GuestMessage(e.areas.Areas()))
	return OutcomeFinalized
}
