// internal/webhook/server.go
package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/conserje/internal/gateway"
	"github.com/user/conserje/internal/state"
	"github.com/user/conserje/internal/types"
)

const (
	source        = "http"
	defaultWait   = 30 * time.Second
	maxImageBytes = 10 << 20
)

// Inbound accepts events for a conversation's lane.
type Inbound interface {
	HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...gateway.RunOption) error
	Reset(ctx context.Context, key types.SessionKey, source string, opts ...gateway.RunOption) error
}

// Searcher runs full-text incident queries.
type Searcher interface {
	Search(ctx context.Context, text string, limit int) ([]state.IncidentDocument, error)
}

// Server is the HTTP surface: health, metrics, turn injection and session
// inspection.
type Server struct {
	inbound  Inbound
	sessions types.SessionStore
	events   types.EventLog
	search   Searcher
	wait     time.Duration
	started  time.Time
	logger   *zap.Logger
	mux      *http.ServeMux
}

// Health is the body of GET /health. Lanes is the number of conversations
// with a live gateway lane, when the inbound side reports it.
type Health struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Lanes  *int   `json:"lanes,omitempty"`
}

// Option configures optional endpoints.
type Option func(*Server)

// WithEventLog enables GET /api/incidents/{id}/events.
func WithEventLog(events types.EventLog) Option {
	return func(s *Server) { s.events = events }
}

// WithSearch enables GET /api/incidents/search.
func WithSearch(search Searcher) Option {
	return func(s *Server) { s.search = search }
}

// WithWait bounds how long POST /api/turns waits for the turn to finish.
func WithWait(d time.Duration) Option {
	return func(s *Server) { s.wait = d }
}

// NewServer creates the HTTP handler.
func NewServer(inbound Inbound, sessions types.SessionStore, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		inbound:  inbound,
		sessions: sessions,
		wait:     defaultWait,
		started:  time.Now(),
		logger:   logger.Named("http"),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("POST /api/turns", s.handleTurn)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{key}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{key}", s.handleResetSession)
	s.mux.HandleFunc("GET /api/incidents/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/incidents/{id}/events", s.handleIncidentEvents)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{Status: "ok", Uptime: time.Since(s.started).Round(time.Second).String()}
	if l, ok := s.inbound.(interface{ Lanes() int }); ok {
		n := l.Lanes()
		h.Lanes = &n
	}
	writeJSON(w, http.StatusOK, h)
}

type imagePayload struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// turnRequest is the JSON body for POST /api/turns.
type turnRequest struct {
	SessionKey string         `json:"session_key"`
	UserID     string         `json:"user_id"`
	Text       string         `json:"text"`
	Images     []imagePayload `json:"images"`
}

type turnResponse struct {
	SessionKey string   `json:"session_key"`
	Replies    []string `json:"replies"`
}

// conversationKey scopes bare keys to the HTTP channel.
func conversationKey(raw string) types.SessionKey {
	if strings.Contains(raw, ":") {
		return types.SessionKey(raw)
	}
	return types.NewSessionKey(source, raw)
}

// collector gathers the replies of one run.
type collector struct {
	mu      sync.Mutex
	replies []string
	done    chan error
}

func newCollector() *collector {
	return &collector{replies: []string{}, done: make(chan error, 1)}
}

func (c *collector) reply(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, text)
	return nil
}

func (c *collector) finish(err error) { c.done <- err }

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.replies...)
}

func (s *Server) enqueueAndWait(w http.ResponseWriter, r *http.Request, key types.SessionKey, enqueue func(opts ...gateway.RunOption) error) {
	c := newCollector()
	if err := enqueue(gateway.WithReply(c.reply), gateway.WithOnDone(c.finish)); err != nil {
		s.logger.Error("enqueue failed", zap.String("session_key", string(key)), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "conversation busy")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.wait)
	defer cancel()
	select {
	case <-c.done:
		writeJSON(w, http.StatusOK, turnResponse{SessionKey: string(key), Replies: c.snapshot()})
	case <-ctx.Done():
		writeJSON(w, http.StatusAccepted, turnResponse{SessionKey: string(key), Replies: c.snapshot()})
	}
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SessionKey == "" || (strings.TrimSpace(req.Text) == "" && len(req.Images) == 0) {
		writeError(w, http.StatusBadRequest, "session_key and text or images are required")
		return
	}

	event := &types.InboundEvent{
		Kind:       types.EventKindTurn,
		Source:     source,
		SessionKey: conversationKey(req.SessionKey),
		UserID:     req.UserID,
		Text:       req.Text,
	}
	for i, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil || len(data) == 0 {
			writeError(w, http.StatusBadRequest, "image "+strconv.Itoa(i)+": invalid base64 data")
			return
		}
		if len(data) > maxImageBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "image "+strconv.Itoa(i)+": too large")
			return
		}
		mime := img.MimeType
		if mime == "" {
			mime = http.DetectContentType(data)
		}
		event.Images = append(event.Images, types.Image{Data: data, MimeType: mime})
	}

	s.enqueueAndWait(w, r, event.SessionKey, func(opts ...gateway.RunOption) error {
		return s.inbound.HandleInbound(r.Context(), event, opts...)
	})
}

type sessionSummary struct {
	SessionKey   string `json:"session_key"`
	Mode         string `json:"mode"`
	Descripcion  string `json:"descripcion,omitempty"`
	Lugar        string `json:"lugar,omitempty"`
	Area         string `json:"area,omitempty"`
	PendingMedia int    `json:"pending_media"`
	UpdatedAt    string `json:"updated_at"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionSummary{
			SessionKey:   string(sess.Key),
			Mode:         string(sess.Mode),
			Descripcion:  sess.Draft.Summary(),
			Lugar:        sess.Draft.Lugar,
			Area:         sess.Draft.AreaDestino,
			PendingMedia: len(sess.PendingMedia),
			UpdatedAt:    sess.UpdatedAt.Format(time.RFC3339),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt > result[j].UpdatedAt
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	key := types.SessionKey(r.PathValue("key"))
	sess, err := s.sessions.Load(r.Context(), key)
	if err != nil {
		s.logger.Error("load session failed", zap.String("session_key", string(key)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	// Photo bytes stay out of the API.
	for i := range sess.PendingMedia {
		sess.PendingMedia[i].Data = nil
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	key := types.SessionKey(r.PathValue("key"))
	s.enqueueAndWait(w, r, key, func(opts ...gateway.RunOption) error {
		return s.inbound.Reset(r.Context(), key, source, opts...)
	})
}

func (s *Server) handleIncidentEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "trace not configured")
		return
	}
	id := types.IncidentID(r.PathValue("id"))

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.events.Tail(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		s.logger.Error("tail events failed", zap.String("incident_id", string(id)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "search not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	docs, err := s.search.Search(r.Context(), q, limit)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}
