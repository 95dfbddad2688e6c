package intake

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/metrics"
	"github.com/user/conserje/internal/types"
)

var (
	ErrMissingPlace = errors.New("draft has no place")
	ErrMissingArea  = errors.New("draft has no primary area")
)

// FinalizeReport collects the outcome of each finalization step. Failures in
// one step never abort the others.
type FinalizeReport struct {
	Ref          types.IncidentRef
	PrimaryArea  string
	PersistErr   error
	MediaErrs    []error
	TraceErr     error
	Targets      []types.DispatchTarget
	UnknownAreas []string
}

// Failed returns the dispatch targets that were not delivered.
func (r *FinalizeReport) Failed() []types.DispatchTarget {
	var out []types.DispatchTarget
	for _, tgt := range r.Targets {
		if !tgt.Delivered {
			out = append(out, tgt)
		}
	}
	return out
}

// GuestMessage renders the confirmation sent back to the guest.
func (r *FinalizeReport) GuestMessage(areas *catalog.Areas) string {
	primary := areas.Name(r.PrimaryArea)
	var b strings.Builder
	if r.Ref.Folio != "" {
		fmt.Fprintf(&b, msgFinalized, primary, r.Ref.Folio)
	} else {
		fmt.Fprintf(&b, msgFinalizedNoFolio, primary)
	}
	if len(r.UnknownAreas) > 0 {
		names := make([]string, len(r.UnknownAreas))
		for i, a := range r.UnknownAreas {
			names[i] = areas.Name(a)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, msgUnknownArea, strings.Join(names, ", "))
	}
	if failed := r.Failed(); len(failed) > 0 {
		var names []string
		for _, tgt := range failed {
			name := areas.Name(tgt.Area)
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, msgPartialDelivery, strings.Join(names, ", "))
	}
	return b.String()
}

// Finalizer persists a confirmed draft and dispatches it to its areas.
type Finalizer struct {
	incidents  types.IncidentStore
	media      types.MediaStore
	dispatcher types.Dispatcher
	areas      *catalog.Areas
	clock      Clock
	logger     *zap.Logger
}

// NewFinalizer creates a Finalizer. media may be nil, in which case photos
// are only resent to destinations.
func NewFinalizer(incidents types.IncidentStore, media types.MediaStore, dispatcher types.Dispatcher,
	areas *catalog.Areas, clock Clock, logger *zap.Logger) *Finalizer {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{
		incidents:  incidents,
		media:      media,
		dispatcher: dispatcher,
		areas:      areas,
		clock:      clock,
		logger:     logger.Named("finalizer"),
	}
}

// Finalize re-checks the draft, persists it, stores and links its photos,
// sends it to the resolved destinations and records the dispatch trace. The
// only errors returned are ErrMissingPlace and ErrMissingArea; everything
// else is reported in the FinalizeReport.
func (f *Finalizer) Finalize(ctx context.Context, sess *types.Session, reporterID string) (*FinalizeReport, error) {
	draft := sess.Draft
	if draft.Lugar == "" {
		return nil, ErrMissingPlace
	}
	if draft.AreaDestino == "" {
		return nil, ErrMissingArea
	}
	log := f.logger.With(zap.String("session_key", string(sess.Key)))
	report := &FinalizeReport{PrimaryArea: draft.AreaDestino}

	meta := types.IncidentMeta{SessionKey: sess.Key, ReporterID: reporterID, CreatedAt: f.clock.Now()}
	ref, err := f.incidents.PersistIncident(ctx, draft, meta)
	if err != nil {
		report.PersistErr = err
		metrics.DispatchFailures.WithLabelValues(metrics.FailurePersist).Inc()
		log.Error("persist incident failed", zap.Error(err))
	} else {
		report.Ref = ref
		log = log.With(zap.String("incident_id", string(ref.ID)), zap.String("folio", ref.Folio))
	}

	if ref.ID != "" && f.media != nil && len(sess.PendingMedia) > 0 {
		f.storeMedia(ctx, log, report, sess.PendingMedia)
	}

	groups := f.dispatcher.ResolveTargetGroups(draft.AreaDestino, draft.Areas)
	report.UnknownAreas = groups.UnknownAreas
	for _, area := range groups.UnknownAreas {
		metrics.DispatchFailures.WithLabelValues(metrics.FailureUnknownArea).Inc()
		log.Warn("area has no destination", zap.String("area", area))
	}

	msg := types.OutboundMessage{
		Text:  RenderDispatch(report.Ref, &draft, f.areas, len(sess.PendingMedia)),
		Media: sess.PendingMedia,
	}
	report.Targets = f.dispatcher.SendToDestinations(ctx, groups, msg)
	for _, tgt := range report.Failed() {
		metrics.DispatchFailures.WithLabelValues(metrics.FailureDelivery).Inc()
		log.Error("delivery failed",
			zap.String("area", tgt.Area), zap.String("destination", tgt.Destination), zap.String("error", tgt.Error))
	}

	if ref.ID != "" {
		if err := f.incidents.AppendDispatchEvent(ctx, ref.ID, report.Targets); err != nil {
			report.TraceErr = err
			metrics.DispatchFailures.WithLabelValues(metrics.FailureTrace).Inc()
			log.Error("append dispatch event failed", zap.Error(err))
		}
	}

	metrics.IncidentsFinalized.WithLabelValues(draft.AreaDestino).Inc()
	return report, nil
}

func (f *Finalizer) storeMedia(ctx context.Context, log *zap.Logger, report *FinalizeReport, pending []types.PendingMedia) {
	var metas []types.MediaMeta
	for _, m := range pending {
		meta, err := f.media.Put(ctx, report.Ref.ID, m)
		if err != nil {
			report.MediaErrs = append(report.MediaErrs, err)
			metrics.DispatchFailures.WithLabelValues(metrics.FailureMedia).Inc()
			log.Error("store media failed", zap.String("media_id", string(m.ID)), zap.Error(err))
			continue
		}
		metas = append(metas, meta)
	}
	if len(metas) == 0 {
		return
	}
	if err := f.incidents.AppendAttachments(ctx, report.Ref.ID, metas); err != nil {
		report.MediaErrs = append(report.MediaErrs, err)
		metrics.DispatchFailures.WithLabelValues(metrics.FailureMedia).Inc()
		log.Error("append attachments failed", zap.Error(err))
	}
}
