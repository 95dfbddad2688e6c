package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/conserje/internal/gateway"
	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/internal/state"
	"github.com/user/conserje/internal/types"
)

type echoHandler struct {
	mu     sync.Mutex
	events []types.InboundEvent
	block  chan struct{}
}

func (h *echoHandler) HandleTurn(ctx context.Context, ev types.InboundEvent, reply intake.Replier) error {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	if h.block != nil {
		<-h.block
	}
	switch ev.Kind {
	case types.EventKindReset:
		return reply.Reply(ctx, "Listo, empecemos de nuevo.")
	default:
		if err := reply.Reply(ctx, "recibido: "+ev.Text); err != nil {
			return err
		}
		return reply.Reply(ctx, "¿En qué habitación?")
	}
}

func (h *echoHandler) seen() []types.InboundEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.InboundEvent(nil), h.events...)
}

func setupServer(t *testing.T, handler *echoHandler, opts ...Option) (*Server, *state.MemorySessionStore) {
	t.Helper()
	gw := gateway.New(2, nil)
	gw.Use(handler)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	sessions := state.NewMemorySessionStore()
	return NewServer(gw, sessions, nil, opts...), sessions
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupServer(t, &echoHandler{})

	w := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp Health
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Uptime)
	require.NotNil(t, resp.Lanes)
	assert.Equal(t, 0, *resp.Lanes)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupServer(t, &echoHandler{})

	w := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestTurnReturnsReplies(t *testing.T) {
	handler := &echoHandler{}
	srv, _ := setupServer(t, handler)

	img := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n0000"))
	w := do(t, srv, http.MethodPost, "/api/turns",
		`{"session_key":"kiosko-1","user_id":"u1","text":"fuga en el lobby","images":[{"data":"`+img+`"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp turnResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "http:kiosko-1", resp.SessionKey)
	assert.Equal(t, []string{"recibido: fuga en el lobby", "¿En qué habitación?"}, resp.Replies)

	events := handler.seen()
	require.Len(t, events, 1)
	assert.Equal(t, "http", events[0].Source)
	require.Len(t, events[0].Images, 1)
	assert.Equal(t, "image/png", events[0].Images[0].MimeType)
}

func TestTurnKeepsChannelScopedKey(t *testing.T) {
	handler := &echoHandler{}
	srv, _ := setupServer(t, handler)

	w := do(t, srv, http.MethodPost, "/api/turns", `{"session_key":"telegram:1:1","text":"hola"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.SessionKey("telegram:1:1"), handler.seen()[0].SessionKey)
}

func TestTurnValidation(t *testing.T) {
	srv, _ := setupServer(t, &echoHandler{})

	cases := map[string]string{
		"bad json":     `{`,
		"missing key":  `{"text":"hola"}`,
		"missing text": `{"session_key":"a"}`,
		"bad image":    `{"session_key":"a","images":[{"data":"%%%"}]}`,
	}
	for name, body := range cases {
		w := do(t, srv, http.MethodPost, "/api/turns", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestTurnTimesOutWithAccepted(t *testing.T) {
	handler := &echoHandler{block: make(chan struct{})}
	srv, _ := setupServer(t, handler, WithWait(50*time.Millisecond))
	defer close(handler.block)

	w := do(t, srv, http.MethodPost, "/api/turns", `{"session_key":"a","text":"hola"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestListAndGetSessions(t *testing.T) {
	srv, sessions := setupServer(t, &echoHandler{})
	ctx := context.Background()

	older := types.NewSession("telegram:1:1", time.Now().Add(-time.Hour))
	older.Draft.Descripcion = "no hay toallas"
	newer := types.NewSession("telegram:2:2", time.Now())
	newer.Mode = types.ModeConfirm
	newer.Draft.Lugar = "Habitación 1203"
	newer.PendingMedia = []types.PendingMedia{{ID: "m1", MimeType: "image/jpeg", Data: []byte("jpeg")}}
	require.NoError(t, sessions.Save(ctx, older))
	require.NoError(t, sessions.Save(ctx, newer))

	w := do(t, srv, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []sessionSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "telegram:2:2", list[0].SessionKey)
	assert.Equal(t, 1, list[0].PendingMedia)
	assert.Equal(t, "no hay toallas", list[1].Descripcion)

	w = do(t, srv, http.MethodGet, "/api/sessions/telegram:2:2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sess types.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sess))
	assert.Equal(t, types.ModeConfirm, sess.Mode)
	require.Len(t, sess.PendingMedia, 1)
	assert.Empty(t, sess.PendingMedia[0].Data)
}

func TestDeleteSessionResetsThroughLane(t *testing.T) {
	handler := &echoHandler{}
	srv, _ := setupServer(t, handler)

	w := do(t, srv, http.MethodDelete, "/api/sessions/telegram:5:5", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp turnResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{"Listo, empecemos de nuevo."}, resp.Replies)

	events := handler.seen()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventKindReset, events[0].Kind)
	assert.Equal(t, types.SessionKey("telegram:5:5"), events[0].SessionKey)
}

func TestIncidentEvents(t *testing.T) {
	events := state.NewEventStore(t.TempDir())
	srv, _ := setupServer(t, &echoHandler{}, WithEventLog(events))
	ctx := context.Background()

	for _, typ := range []string{state.EventPersisted, state.EventDispatch} {
		require.NoError(t, events.Append(ctx, &types.Event{Incident: "inc-1", Type: typ, At: time.Now()}))
	}

	w := do(t, srv, http.MethodGet, "/api/incidents/inc-1/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got []types.Event
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, state.EventDispatch, got[1].Type)

	w = do(t, srv, http.MethodGet, "/api/incidents/inc-1/events?limit=1", "")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Len(t, got, 1)
}

type fakeSearch struct{ query string }

func (f *fakeSearch) Search(_ context.Context, text string, limit int) ([]state.IncidentDocument, error) {
	f.query = text
	return []state.IncidentDocument{{ID: "inc-9", Folio: "MAN-00009"}}, nil
}

func TestSearchEndpoint(t *testing.T) {
	srv, _ := setupServer(t, &echoHandler{})
	w := do(t, srv, http.MethodGet, "/api/incidents/search?q=fuga", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	search := &fakeSearch{}
	srv, _ = setupServer(t, &echoHandler{}, WithSearch(search))
	w = do(t, srv, http.MethodGet, "/api/incidents/search?q=fuga", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fuga", search.query)
	assert.Contains(t, w.Body.String(), "MAN-00009")

	w = do(t, srv, http.MethodGet, "/api/incidents/search", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
