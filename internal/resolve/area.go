package resolve

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/metrics"
)

// AreaDetector infers an area from free text. An empty result means no area.
type AreaDetector interface {
	DetectArea(ctx context.Context, text string) (string, error)
}

// AreaSource tells which signal proposed an area.
type AreaSource string

const (
	AreaFromName     AreaSource = "name"
	AreaFromDetector AreaSource = "detector"
	AreaFromVision   AreaSource = "vision"
)

// AreaResolver maps text and vision hints onto area codes.
// It only proposes; committing is the caller's decision.
type AreaResolver struct {
	areas    *catalog.Areas
	detector AreaDetector
	logger   *zap.Logger
}

// NewAreaResolver creates a resolver. detector may be nil.
func NewAreaResolver(areas *catalog.Areas, detector AreaDetector, logger *zap.Logger) *AreaResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AreaResolver{areas: areas, detector: detector, logger: logger.Named("area")}
}

// Areas returns the area catalog.
func (r *AreaResolver) Areas() *catalog.Areas { return r.areas }

// Canonical maps a code, name or alias onto a known area code.
func (r *AreaResolver) Canonical(v string) (string, bool) {
	return r.areas.Canonical(v)
}

// Named returns an area the text names explicitly.
func (r *AreaResolver) Named(text string) (string, bool) {
	return r.areas.FromText(text)
}

// Detect asks the detector for an area and canonicalizes its answer.
// Detector failures are logged and reported as no area.
func (r *AreaResolver) Detect(ctx context.Context, text string) (string, bool) {
	if r.detector == nil || text == "" {
		return "", false
	}
	raw, err := r.detector.DetectArea(ctx, text)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues(metrics.CollaboratorArea).Inc()
		r.logger.Warn("area detector failed",
			zap.String("collaborator", metrics.CollaboratorArea), zap.Error(err))
		return "", false
	}
	if raw == "" {
		return "", false
	}
	code, ok := r.areas.Canonical(raw)
	if !ok {
		r.logger.Debug("detector returned unknown area", zap.String("area", raw))
	}
	return code, ok
}

// Suggest proposes an area for a draft that has none. An area named in text
// wins over the detector's answer, and vision hints are only consulted when
// text produced neither. Areas in declined are never proposed.
func (r *AreaResolver) Suggest(ctx context.Context, text string, visionHints, declined []string) (string, AreaSource, bool) {
	if code, ok := r.Named(text); ok && !slices.Contains(declined, code) {
		return code, AreaFromName, true
	}
	if code, ok := r.Detect(ctx, text); ok && !slices.Contains(declined, code) {
		return code, AreaFromDetector, true
	}
	for _, hint := range visionHints {
		if code, ok := r.areas.Canonical(hint); ok && !slices.Contains(declined, code) {
			return code, AreaFromVision, true
		}
	}
	return "", "", false
}
