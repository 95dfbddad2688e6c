package intake_test

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/internal/intake/intaketest"
	"github.com/user/conserje/internal/resolve"
	"github.com/user/conserje/internal/state"
	"github.com/user/conserje/internal/types"
)

const testKey = types.SessionKey("telegram:42:42")

var folioPattern = regexp.MustCompile(`^[A-Z]{2,5}-\d{5}$`)

type harness struct {
	engine     *intake.Engine
	sessions   *state.MemorySessionStore
	clock      *intaketest.Clock
	interp     *intaketest.Interpreter
	vision     *intaketest.Vision
	detector   *intaketest.AreaDetector
	informal   *intaketest.InformalClassifier
	incidents  *intaketest.Incidents
	media      *intaketest.Media
	dispatcher *intaketest.Dispatcher
	areas      *catalog.Areas
	reply      *intaketest.Replier
}

func testAreas(t *testing.T) *catalog.Areas {
	t.Helper()
	areas, err := catalog.NewAreas([]catalog.Area{
		{Code: "man", Name: "Mantenimiento", Destinations: []string{"log:man"}},
		{Code: "hk", Name: "Ama de llaves", Destinations: []string{"log:hk"}},
		{Code: "it", Name: "Sistemas", Destinations: []string{"log:it"}},
	})
	require.NoError(t, err)
	return areas
}

func newHarness(t *testing.T, mutate ...func(*intake.Config)) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	areas := testAreas(t)

	loader := catalog.NewLoader(logger)
	loader.Set(catalog.NewIndex([]catalog.Entry{
		{Label: "Habitación 1311", RoomNumber: "1311", Building: "Torre A", Floor: "13"},
		{Label: "Villa 6", Building: "Villas"},
		{Label: "Lobby Principal", Aliases: []string{"lobby", "recepción"}},
		{Label: "Alberca Principal", Aliases: []string{"alberca", "piscina"}},
	}))

	h := &harness{
		sessions:  state.NewMemorySessionStore(),
		clock:     intaketest.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		interp:    intaketest.NewInterpreter(),
		vision:    &intaketest.Vision{},
		detector:  &intaketest.AreaDetector{Rules: map[string]string{"aire": "man", "fuga": "man", "internet": "it"}},
		informal:  &intaketest.InformalClassifier{},
		incidents: intaketest.NewIncidents(areas.Folio),
		media:     &intaketest.Media{},
		dispatcher: &intaketest.Dispatcher{Destinations: map[string][]string{
			"man": {"log:man"}, "hk": {"log:hk"}, "it": {"log:it"},
		}},
		areas: areas,
		reply: &intaketest.Replier{},
	}

	cfg := intake.DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	h.engine = intake.NewEngine(intake.Deps{
		Sessions:    h.sessions,
		Places:      resolve.NewPlaceResolver(loader, h.informal, logger),
		Areas:       resolve.NewAreaResolver(areas, h.detector, logger),
		Interpreter: h.interp,
		Vision:      h.vision,
		Finalizer:   intake.NewFinalizer(h.incidents, h.media, h.dispatcher, areas, h.clock, logger),
		Clock:       h.clock,
	}, cfg, logger)
	return h
}

func (h *harness) send(t *testing.T, text string, images ...types.Image) {
	t.Helper()
	require.NoError(t, h.engine.HandleTurn(context.Background(), types.InboundEvent{
		Kind:       types.EventKindTurn,
		Source:     "test",
		SessionKey: testKey,
		UserID:     "guest",
		Text:       text,
		Images:     images,
	}, h.reply))
}

func (h *harness) event(t *testing.T, kind types.EventKind) {
	t.Helper()
	require.NoError(t, h.engine.HandleTurn(context.Background(), types.InboundEvent{
		Kind:       kind,
		SessionKey: testKey,
	}, h.reply))
}

func (h *harness) session(t *testing.T) *types.Session {
	t.Helper()
	sess, err := h.sessions.Load(context.Background(), testKey)
	require.NoError(t, err)
	return sess
}

func (h *harness) seed(t *testing.T, mode types.Mode, draft types.Draft) {
	t.Helper()
	sess := types.NewSession(testKey, h.clock.Now())
	sess.Mode = mode
	sess.Draft = draft
	require.NoError(t, h.sessions.Save(context.Background(), sess))
}

func (h *harness) stored(t *testing.T) int {
	t.Helper()
	list, err := h.sessions.List(context.Background())
	require.NoError(t, err)
	return len(list)
}

func photo() types.Image {
	return types.Image{Data: []byte("\xff\xd8\xff\xe0fake-jpeg"), MimeType: "image/jpeg"}
}

func readyDraft() types.Draft {
	return types.Draft{
		Descripcion:         "gotea la regadera",
		DescripcionOriginal: "gotea la regadera",
		Lugar:               "Habitación 1311",
		Room:                "1311",
		AreaDestino:         "man",
		Areas:               []string{"man"},
	}
}

func TestRoomTurnToFinalizedFolio(t *testing.T) {
	h := newHarness(t)

	h.send(t, "1311 no prende el aire")
	sess := h.session(t)
	assert.Equal(t, "Habitación 1311", sess.Draft.Lugar)
	assert.Equal(t, "1311", sess.Draft.Room)
	assert.Equal(t, "1311 no prende el aire", sess.Draft.Descripcion)
	assert.Equal(t, types.ModeConfirmAreaSuggestion, sess.Mode)
	assert.Equal(t, "man", sess.SuggestedArea)
	assert.Contains(t, h.reply.Last(), "Mantenimiento")

	h.send(t, "sí")
	sess = h.session(t)
	assert.Equal(t, types.ModeConfirm, sess.Mode)
	assert.Equal(t, "man", sess.Draft.AreaDestino)
	assert.Contains(t, h.reply.Last(), "Resumen del reporte")

	h.send(t, "sí")
	require.Len(t, h.incidents.Incidents, 1)
	folio := h.incidents.Incidents[0].Folio
	assert.Regexp(t, folioPattern, folio)
	assert.Equal(t, "MAN-00001", folio)
	assert.Contains(t, h.reply.Last(), folio)
	assert.Len(t, h.dispatcher.Sent, 1)
	assert.Equal(t, 0, h.stored(t), "session cleared after finalize")
}

func TestConfirmIgnoresBareNumbers(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeConfirm, readyDraft())
	before := h.session(t).Draft

	h.send(t, "15")
	sess := h.session(t)
	assert.Equal(t, types.ModeConfirm, sess.Mode)
	assert.Equal(t, before, sess.Draft)
	assert.Contains(t, h.reply.Last(), "«sí»")
	assert.Empty(t, h.incidents.Incidents)
}

func TestConfirmNumbersNeverFinalize(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeConfirm, readyDraft())
	before := h.session(t).Draft

	for _, n := range []int{0, 1, 2, 7, 10, 15, 42, 99, 100, 311, 999} {
		h.send(t, strconv.Itoa(n))
		sess := h.session(t)
		require.Equal(t, types.ModeConfirm, sess.Mode, "input %d", n)
		require.Equal(t, before, sess.Draft, "input %d", n)
	}
	h.send(t, "007")
	assert.Equal(t, types.ModeConfirm, h.session(t).Mode)
	assert.Empty(t, h.incidents.Incidents)
	assert.Zero(t, h.interp.CallCount())
}

func TestCompetingIncidentReplacedBySecond(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeNeutral, types.Draft{
		Descripcion: "no sale agua caliente",
		Lugar:       "Villa 6",
		Building:    "Villas",
		AreaDestino: "man",
		Areas:       []string{"man"},
	})

	h.send(t, "se cayó el internet en la Villa 6")
	sess := h.session(t)
	require.Equal(t, types.ModeChooseIncidentVersion, sess.Mode)
	assert.Equal(t, "it", sess.CandidateArea)
	assert.Equal(t, "man", sess.Draft.AreaDestino, "draft untouched while choosing")
	assert.Contains(t, h.reply.Last(), "primero")

	h.send(t, "segundo")
	sess = h.session(t)
	assert.Equal(t, "it", sess.Draft.AreaDestino)
	assert.Equal(t, []string{"it"}, sess.Draft.Areas)
	assert.Equal(t, "Villa 6", sess.Draft.Lugar)
	assert.Equal(t, "se cayó el internet en la Villa 6", sess.Draft.Descripcion)
	assert.Empty(t, sess.CandidateText)
	assert.Equal(t, types.ModeConfirm, sess.Mode)
	require.NotEmpty(t, sess.Draft.Notes)
	assert.Contains(t, sess.Draft.Notes[0], "no sale agua caliente")
}

func TestCompetingIncidentKeepFirst(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeNeutral, readyDraft())

	h.send(t, "se cayó el internet en la 1311")
	require.Equal(t, types.ModeChooseIncidentVersion, h.session(t).Mode)

	h.send(t, "no sé")
	assert.Equal(t, types.ModeChooseIncidentVersion, h.session(t).Mode)
	assert.Contains(t, h.reply.Last(), "«primero»")

	h.send(t, "primero")
	sess := h.session(t)
	assert.Equal(t, "man", sess.Draft.AreaDestino)
	assert.Equal(t, "gotea la regadera", sess.Draft.Descripcion)
	assert.Contains(t, sess.Draft.Notes, "descartado: se cayó el internet en la 1311")
	assert.Equal(t, types.ModeConfirm, sess.Mode)
}

func TestPhotoBurstPromptsOnce(t *testing.T) {
	h := newHarness(t)

	h.send(t, "", photo())
	h.clock.Advance(3 * time.Second)
	h.send(t, "", photo())

	assert.Equal(t, 1, h.reply.Count())
	assert.Equal(t, "Recibí la foto. ¿Qué sucedió?", h.reply.Last())
	sess := h.session(t)
	assert.Len(t, sess.PendingMedia, 2)
	assert.Len(t, h.vision.Calls, 2)

	h.clock.Advance(time.Minute)
	h.send(t, "", photo())
	assert.Equal(t, 2, h.reply.Count(), "a new batch gets its own prompt")
}

func TestPhotoHintsSuggestAreaAfterText(t *testing.T) {
	h := newHarness(t)
	h.vision.Result = intake.VisionResult{
		Interpretation: "toallas manchadas",
		Tags:           []string{"toalla"},
		AreaHints:      []string{"hk"},
	}

	h.send(t, "", photo())
	sess := h.session(t)
	assert.Equal(t, []string{"hk"}, sess.VisionAreaHints)
	assert.Equal(t, "toallas manchadas", sess.Draft.Interpretacion)

	h.send(t, "las toallas tienen manchas en la 1311")
	sess = h.session(t)
	assert.Equal(t, "Habitación 1311", sess.Draft.Lugar)
	assert.Equal(t, types.ModeConfirmAreaSuggestion, sess.Mode)
	assert.Equal(t, "hk", sess.SuggestedArea)

	h.send(t, "no")
	sess = h.session(t)
	assert.Equal(t, types.ModeAskArea, sess.Mode)
	assert.Equal(t, []string{"hk"}, sess.DeclinedAreas)
	assert.Empty(t, sess.Draft.AreaDestino)

	h.send(t, "Sistemas")
	sess = h.session(t)
	assert.Equal(t, "it", sess.Draft.AreaDestino)
	assert.Equal(t, types.ModeConfirm, sess.Mode)

	h.send(t, "sí")
	require.Len(t, h.incidents.Incidents, 1)
	assert.Len(t, h.media.Stored, 1)
	require.Len(t, h.dispatcher.Sent, 1)
	assert.Len(t, h.dispatcher.Sent[0].Media, 1)
}

func TestTextAreaSignalReplacesPhotoSuggestion(t *testing.T) {
	h := newHarness(t)
	h.vision.Result = intake.VisionResult{Interpretation: "cable suelto", AreaHints: []string{"hk"}}

	h.send(t, "", photo())
	h.send(t, "algo pasa en la 1311")
	sess := h.session(t)
	require.Equal(t, types.ModeConfirmAreaSuggestion, sess.Mode)
	assert.Equal(t, "hk", sess.SuggestedArea)
	assert.Equal(t, string(resolve.AreaFromVision), sess.SuggestedAreaSource)

	h.send(t, "se fue el internet")
	sess = h.session(t)
	assert.Equal(t, types.ModeConfirmAreaSuggestion, sess.Mode)
	assert.Equal(t, "it", sess.SuggestedArea)
	assert.Equal(t, string(resolve.AreaFromDetector), sess.SuggestedAreaSource)
	assert.Contains(t, h.reply.Last(), "Sistemas")

	h.send(t, "sí")
	sess = h.session(t)
	assert.Equal(t, "it", sess.Draft.AreaDestino)
	assert.Empty(t, sess.SuggestedAreaSource)
	assert.Equal(t, types.ModeConfirm, sess.Mode)
}

func TestPlaceCorrectionOnlyUpdatesPlaceInPlace(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeNeutral, types.Draft{
		Descripcion: "no sale agua caliente",
		Lugar:       "Villa 6",
		Building:    "Villas",
		AreaDestino: "man",
		Areas:       []string{"man"},
	})
	h.interp.On("perdón, es la 1311", intake.Interpretation{Meta: intake.Meta{IsPlaceCorrectionOnly: true}})

	h.send(t, "perdón, es la 1311")
	sess := h.session(t)
	assert.Equal(t, types.ModeConfirm, sess.Mode)
	assert.Equal(t, "Habitación 1311", sess.Draft.Lugar)
	assert.Equal(t, "1311", sess.Draft.Room)
	assert.Equal(t, "man", sess.Draft.AreaDestino)
	assert.Equal(t, "no sale agua caliente", sess.Draft.Descripcion)
	assert.Contains(t, sess.Draft.Notes, "lugar corregido: Villa 6 -> Habitación 1311")
	assert.Empty(t, sess.CandidateText, "a correction never branches")
}

func TestDifferentPlaceStartsCompetingIncident(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeNeutral, types.Draft{
		Descripcion: "no sale agua caliente",
		Lugar:       "Villa 6",
		Building:    "Villas",
		AreaDestino: "man",
		Areas:       []string{"man"},
	})

	h.send(t, "se rompió la puerta en la 1311")
	sess := h.session(t)
	require.Equal(t, types.ModeChooseIncidentVersion, sess.Mode)
	assert.Equal(t, "se rompió la puerta en la 1311", sess.CandidateText)
	assert.Equal(t, "Villa 6", sess.Draft.Lugar, "draft untouched while choosing")

	h.send(t, "segundo")
	sess = h.session(t)
	assert.Equal(t, "Habitación 1311", sess.Draft.Lugar)
	assert.Equal(t, "1311", sess.Draft.Room)
	assert.Equal(t, "se rompió la puerta en la 1311", sess.Draft.Descripcion)
	assert.Empty(t, sess.Draft.AreaDestino)
	assert.Equal(t, types.ModeAskArea, sess.Mode)
	require.NotEmpty(t, sess.Draft.Notes)
	assert.Contains(t, sess.Draft.Notes[0], "no sale agua caliente")
}

func TestGreetingWithPlaceKeepsPlace(t *testing.T) {
	h := newHarness(t)

	h.send(t, "hola, villa 6")
	sess := h.session(t)
	assert.Equal(t, "Villa 6", sess.Draft.Lugar)
	assert.Equal(t, types.ModeAskArea, sess.Mode)
	assert.Equal(t, 1, h.interp.CallCount(), "not answered by the greeting guard")
}

func TestPendingMediaCap(t *testing.T) {
	h := newHarness(t, func(c *intake.Config) { c.MaxPendingMedia = 2 })

	h.send(t, "", photo(), photo(), photo())
	sess := h.session(t)
	assert.Len(t, sess.PendingMedia, 2)
	require.NotEmpty(t, sess.Draft.Notes)
	assert.Contains(t, sess.Draft.Notes[0], "1 foto(s) descartada(s)")
}

func TestAppendDetailIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeNeutral, types.Draft{Descripcion: "no hay agua caliente"})
	h.interp.Default = func(in intake.TurnInput) intake.Interpretation {
		return intake.Interpretation{Ops: []intake.Op{
			intake.AppendDetail{Text: "desde la mañana"},
			intake.AppendDetail{Text: "Desde la mañana."},
		}}
	}

	h.send(t, "desde la mañana")
	h.send(t, "desde la mañana")
	sess := h.session(t)
	assert.Equal(t, []string{"desde la mañana"}, sess.Draft.Details)
}

func TestRoomNumberBeatsPhrase(t *testing.T) {
	h := newHarness(t)
	h.send(t, "1311 hay agua en el piso del lobby")
	sess := h.session(t)
	assert.Equal(t, "Habitación 1311", sess.Draft.Lugar)
	assert.Equal(t, "Torre A", sess.Draft.Building)
}

func TestStandingAreaNotOverwrittenByText(t *testing.T) {
	h := newHarness(t)
	draft := readyDraft()
	h.seed(t, types.ModeNeutral, draft)

	h.send(t, "también falla el internet")
	sess := h.session(t)
	assert.Equal(t, "man", sess.Draft.AreaDestino)
	assert.Equal(t, []string{"man"}, sess.Draft.Areas)
	assert.Contains(t, sess.Draft.Details, "también falla el internet")
	assert.Equal(t, types.ModeConfirm, sess.Mode)
}

func TestExplicitAreaOpOverrides(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeConfirm, readyDraft())
	h.interp.On("mejor a sistemas", intake.Interpretation{Ops: []intake.Op{
		intake.SetField{Field: intake.FieldAreaDestino, Value: "sistemas"},
	}})

	h.send(t, "no")
	sess := h.session(t)
	assert.Equal(t, types.ModeNeutral, sess.Mode)
	assert.Equal(t, "¿Qué quieres corregir?", h.reply.Last())

	h.send(t, "mejor a sistemas")
	sess = h.session(t)
	assert.Equal(t, "it", sess.Draft.AreaDestino)
	assert.Equal(t, types.ModeConfirm, sess.Mode)
	assert.Contains(t, h.reply.Last(), "Sistemas")
}

func TestFinalizeWithoutAreaDetours(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeConfirm, types.Draft{Descripcion: "no hay toallas", Lugar: "Villa 6"})

	h.send(t, "sí")
	sess := h.session(t)
	assert.Empty(t, h.incidents.Incidents)
	assert.Equal(t, types.ModeAskArea, sess.Mode)
	assert.Contains(t, h.reply.Last(), "¿A qué área")
}

func TestGuardRepliesWithoutTouchingDraft(t *testing.T) {
	h := newHarness(t)

	h.send(t, "hola")
	sess := h.session(t)
	assert.Equal(t, types.ModeNeutral, sess.Mode)
	assert.Empty(t, sess.Draft.Descripcion)
	assert.Contains(t, h.reply.Last(), "asistente de reportes")
	assert.Zero(t, h.interp.CallCount())

	h.send(t, "gracias")
	assert.Empty(t, h.session(t).Draft.Descripcion)
	assert.Equal(t, 2, h.reply.Count())
}

func TestGuardSkippedWithStructuredDraft(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeNeutral, types.Draft{Lugar: "Villa 6"})

	h.send(t, "hola")
	assert.Equal(t, 1, h.interp.CallCount())
	assert.NotContains(t, h.reply.Last(), "asistente de reportes")
}

func TestGuardFromInterpreterAnalysis(t *testing.T) {
	h := newHarness(t)
	h.interp.On("qué bonito está el día", intake.Interpretation{Analysis: "smalltalk: comentario casual"})

	h.send(t, "qué bonito está el día")
	assert.Empty(t, h.session(t).Draft.Descripcion)
	assert.Contains(t, h.reply.Last(), "asistente de reportes")
}

func TestResetClearsSession(t *testing.T) {
	h := newHarness(t)
	h.send(t, "1311 no prende el aire")
	require.Equal(t, 1, h.stored(t))

	h.send(t, "reset")
	assert.Equal(t, 0, h.stored(t))
	assert.Contains(t, h.reply.Last(), "empecemos de nuevo")

	h.seed(t, types.ModeConfirm, readyDraft())
	h.event(t, types.EventKindReset)
	assert.Equal(t, 0, h.stored(t))
}

func TestCancelFromConfirm(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeConfirm, readyDraft())

	h.send(t, "cancelar")
	assert.Equal(t, 0, h.stored(t))
	assert.Contains(t, h.reply.Last(), "cancelado")
	assert.Empty(t, h.incidents.Incidents)
}

func TestCancelOpDropsDraft(t *testing.T) {
	h := newHarness(t)
	h.seed(t, types.ModeNeutral, types.Draft{Descripcion: "no hay agua"})
	h.interp.On("ya se arreglo solo", intake.Interpretation{Ops: []intake.Op{
		intake.AppendDetail{Text: "se arregló"},
		intake.Cancel{},
	}})

	h.send(t, "ya se arreglo solo")
	assert.Equal(t, 0, h.stored(t))
}

func TestPlacePromptCooldown(t *testing.T) {
	h := newHarness(t)

	h.send(t, "no prende el aire")
	require.Equal(t, types.ModeAskPlace, h.session(t).Mode)
	require.Equal(t, 1, h.reply.Count())
	assert.True(t, strings.HasPrefix(h.reply.Last(), "¿En qué lugar"))

	h.clock.Advance(20 * time.Second)
	h.send(t, "también hace ruido")
	assert.Equal(t, 1, h.reply.Count(), "where-prompt suppressed inside cooldown")
	assert.Equal(t, types.ModeAskPlace, h.session(t).Mode)

	h.clock.Advance(time.Minute)
	h.send(t, "y huele raro")
	assert.Equal(t, 2, h.reply.Count())
}

func TestAskPlaceAcceptsShortVerbatimAnswer(t *testing.T) {
	h := newHarness(t)
	h.send(t, "no prende el aire")
	require.Equal(t, types.ModeAskPlace, h.session(t).Mode)

	h.send(t, "en el gimnasio")
	sess := h.session(t)
	assert.NotEmpty(t, sess.Draft.Lugar)
	assert.Equal(t, types.ModeConfirmAreaSuggestion, sess.Mode)
	assert.Equal(t, 1, h.interp.CallCount(), "fast path skips interpretation")
}

func TestExpireOnlyWhenIdle(t *testing.T) {
	h := newHarness(t)
	h.send(t, "1311 no prende el aire")
	replies := h.reply.Count()

	h.clock.Advance(time.Hour)
	h.event(t, types.EventKindExpire)
	assert.Equal(t, 1, h.stored(t))
	assert.Equal(t, replies, h.reply.Count())

	h.clock.Advance(90 * time.Minute)
	h.event(t, types.EventKindExpire)
	assert.Equal(t, 0, h.stored(t))
	assert.Contains(t, h.reply.Last(), "inactividad")
}

func TestEmptyTurnIgnored(t *testing.T) {
	h := newHarness(t)
	h.send(t, "   ")
	assert.Equal(t, 0, h.stored(t))
	assert.Zero(t, h.reply.Count())
}

func TestInterpreterSeesHistory(t *testing.T) {
	h := newHarness(t)
	h.send(t, "no prende el aire")
	h.send(t, "también hace ruido")

	require.Len(t, h.interp.Calls, 2)
	last := h.interp.Calls[1]
	require.Len(t, last.History, 2)
	assert.Equal(t, "no prende el aire", last.History[0].Text)
	assert.Equal(t, types.ModeAskPlace, last.FocusMode)
}
