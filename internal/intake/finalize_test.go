package intake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/internal/intake/intaketest"
	"github.com/user/conserje/internal/types"
)

type finalizeFixture struct {
	finalizer  *intake.Finalizer
	incidents  *intaketest.Incidents
	media      *intaketest.Media
	dispatcher *intaketest.Dispatcher
}

func newFinalizeFixture(t *testing.T) *finalizeFixture {
	t.Helper()
	areas := testAreas(t)
	f := &finalizeFixture{
		incidents: intaketest.NewIncidents(areas.Folio),
		media:     &intaketest.Media{},
		dispatcher: &intaketest.Dispatcher{Destinations: map[string][]string{
			"man": {"log:man", "log:man-night"},
			"hk":  {"log:hk"},
		}},
	}
	clock := intaketest.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	f.finalizer = intake.NewFinalizer(f.incidents, f.media, f.dispatcher, areas, clock, zaptest.NewLogger(t))
	return f
}

func sessionWith(draft types.Draft, photos int) *types.Session {
	sess := types.NewSession(testKey, time.Date(2026, 3, 1, 8, 50, 0, 0, time.UTC))
	sess.Draft = draft
	for i := 0; i < photos; i++ {
		sess.PendingMedia = append(sess.PendingMedia, types.PendingMedia{
			ID:       types.NewMediaID(),
			MimeType: "image/jpeg",
			Data:     []byte("jpeg"),
		})
	}
	return sess
}

func TestFinalizeRequiresBothSlots(t *testing.T) {
	f := newFinalizeFixture(t)

	_, err := f.finalizer.Finalize(context.Background(), sessionWith(types.Draft{AreaDestino: "man"}, 0), "guest")
	assert.ErrorIs(t, err, intake.ErrMissingPlace)

	_, err = f.finalizer.Finalize(context.Background(), sessionWith(types.Draft{Lugar: "Villa 6"}, 0), "guest")
	assert.ErrorIs(t, err, intake.ErrMissingArea)

	assert.Empty(t, f.incidents.Incidents)
	assert.Empty(t, f.dispatcher.Sent)
}

func TestFinalizePersistsStoresAndDispatches(t *testing.T) {
	f := newFinalizeFixture(t)
	draft := readyDraft()
	draft.Areas = []string{"man", "hk"}

	report, err := f.finalizer.Finalize(context.Background(), sessionWith(draft, 2), "guest")
	require.NoError(t, err)

	assert.Equal(t, "MAN-00001", report.Ref.Folio)
	require.Len(t, f.incidents.Incidents, 1)
	assert.Equal(t, "guest", f.incidents.Incidents[0].Meta.ReporterID)
	assert.Len(t, f.media.Stored, 2)
	assert.Len(t, f.incidents.Attachments[report.Ref.ID], 2)

	require.Len(t, f.dispatcher.Sent, 1)
	msg := f.dispatcher.Sent[0]
	assert.Contains(t, msg.Text, "MAN-00001")
	assert.Contains(t, msg.Text, "Habitación 1311")
	assert.Contains(t, msg.Text, "Fotos: 2")
	assert.Len(t, msg.Media, 2)

	assert.Len(t, report.Targets, 3)
	assert.Empty(t, report.Failed())
	require.Len(t, f.incidents.Dispatches[report.Ref.ID], 1)

	guest := report.GuestMessage(testAreas(t))
	assert.Equal(t, "✅ Reporte enviado a Mantenimiento. Folio: MAN-00001", guest)
}

func TestFinalizeFolioSequencePerArea(t *testing.T) {
	f := newFinalizeFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.finalizer.Finalize(ctx, sessionWith(readyDraft(), 0), "guest")
		require.NoError(t, err)
	}
	hk := readyDraft()
	hk.AreaDestino, hk.Areas = "hk", []string{"hk"}
	report, err := f.finalizer.Finalize(ctx, sessionWith(hk, 0), "guest")
	require.NoError(t, err)

	assert.Equal(t, "MAN-00002", f.incidents.Incidents[1].Folio)
	assert.Equal(t, "HK-00001", report.Ref.Folio)
}

func TestFinalizeReportsPartialDelivery(t *testing.T) {
	f := newFinalizeFixture(t)
	f.dispatcher.Fail = map[string]bool{"log:hk": true}
	draft := readyDraft()
	draft.Areas = []string{"man", "hk", "it"}

	report, err := f.finalizer.Finalize(context.Background(), sessionWith(draft, 0), "guest")
	require.NoError(t, err)

	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "hk", report.Failed()[0].Area)
	assert.Equal(t, []string{"it"}, report.UnknownAreas)

	guest := report.GuestMessage(testAreas(t))
	assert.Contains(t, guest, "Folio: MAN-00001")
	assert.Contains(t, guest, "no hay destino configurado para Sistemas")
	assert.Contains(t, guest, "no recibieron el aviso: Ama de llaves")
}

func TestFinalizeDispatchesWhenPersistFails(t *testing.T) {
	f := newFinalizeFixture(t)
	f.incidents.Err = errors.New("disk full")

	report, err := f.finalizer.Finalize(context.Background(), sessionWith(readyDraft(), 1), "guest")
	require.NoError(t, err)

	assert.Error(t, report.PersistErr)
	assert.Empty(t, report.Ref.Folio)
	assert.Empty(t, f.media.Stored, "media is linked to a persisted incident only")
	require.Len(t, f.dispatcher.Sent, 1)
	assert.Len(t, f.dispatcher.Sent[0].Media, 1)
	assert.Contains(t, report.GuestMessage(testAreas(t)), "No pude registrar el folio")
}

func TestFinalizeKeepsGoingWhenMediaFails(t *testing.T) {
	f := newFinalizeFixture(t)
	f.media.Err = errors.New("read-only")

	report, err := f.finalizer.Finalize(context.Background(), sessionWith(readyDraft(), 2), "guest")
	require.NoError(t, err)

	assert.Len(t, report.MediaErrs, 2)
	assert.NotEmpty(t, report.Ref.Folio)
	assert.Len(t, f.dispatcher.Sent, 1)
	assert.Empty(t, f.incidents.Attachments[report.Ref.ID])
}
