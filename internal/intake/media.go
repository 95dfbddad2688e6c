package intake

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/metrics"
	"github.com/user/conserje/internal/types"
)

// ingestMedia queues the turn's images, runs vision on each and decides
// whether a photo-only turn is finished. It returns true when the turn needs
// no further processing.
func (e *Engine) ingestMedia(ctx context.Context, t *turn) bool {
	s := t.sess
	dropped := 0
	for _, img := range t.ev.Images {
		if len(s.PendingMedia) >= e.cfg.MaxPendingMedia {
			dropped++
			continue
		}
		s.PendingMedia = append(s.PendingMedia, types.PendingMedia{
			ID:         types.NewMediaID(),
			MimeType:   img.MimeType,
			Data:       img.Data,
			ReceivedAt: t.now,
		})
		e.analyzeImage(ctx, t, img)
	}
	if dropped > 0 {
		t.log.Warn("pending media cap reached",
			zap.Int("dropped", dropped), zap.Int("cap", e.cfg.MaxPendingMedia))
		s.Draft.AddNote(fmt.Sprintf("%d foto(s) descartada(s): límite de %d", dropped, e.cfg.MaxPendingMedia))
	}

	inBatch := !s.LastMediaAt.IsZero() && t.now.Sub(s.LastMediaAt) < e.cfg.MediaBatchWindow
	s.LastMediaAt = t.now
	if !inBatch {
		s.MediaPromptSent = false
	}

	if t.text != "" {
		// The text drives the reply for this batch.
		s.MediaPromptSent = true
		return false
	}
	if s.MediaPromptSent {
		t.log.Debug("photo within batch window, prompt already sent")
		return true
	}
	s.MediaPromptSent = true

	if dropped > 0 && len(t.ev.Images) == dropped {
		e.say(ctx, t, msgMediaCapReached)
		return true
	}
	if s.Draft.Descripcion == "" {
		e.say(ctx, t, msgWhatHappened)
		return true
	}
	e.nextAction(ctx, t)
	return true
}

// analyzeImage merges vision output into the draft. Nothing it returns
// overwrites existing content.
func (e *Engine) analyzeImage(ctx context.Context, t *turn, img types.Image) {
	if e.vision == nil {
		return
	}
	contextText := t.text
	if contextText == "" {
		contextText = t.sess.Draft.Summary()
	}
	res, err := e.vision.AnalyzeImage(ctx, VisionInput{Image: img.Data, MimeType: img.MimeType, ContextText: contextText})
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues(metrics.CollaboratorVision).Inc()
		t.log.Warn("vision analyzer failed",
			zap.String("collaborator", metrics.CollaboratorVision), zap.Error(err))
		return
	}

	d := &t.sess.Draft
	if in := strings.TrimSpace(res.Interpretation); in != "" {
		switch {
		case d.Interpretacion == "":
			d.Interpretacion = in
		case !strings.Contains(d.Interpretacion, in):
			d.Interpretacion += "; " + in
		}
	}
	d.Tags = appendUnique(d.Tags, res.Tags...)
	d.Safety = appendUnique(d.Safety, res.Safety...)
	t.sess.AddVisionHints(res.AreaHints)
}
