// Package intake implements the guest incident intake state machine.
//
// The Engine processes one turn at a time for a conversation. Callers must
// serialize turns per session key (the gateway's lanes do); turns for
// different keys may run concurrently.
package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/metrics"
	"github.com/user/conserje/internal/resolve"
	"github.com/user/conserje/internal/textnorm"
	"github.com/user/conserje/internal/types"
)

// Turn outcomes, used as metric labels.
const (
	OutcomeIgnored        = "ignored"
	OutcomeReset          = "reset"
	OutcomeExpired        = "expired"
	OutcomeGuard          = "guard"
	OutcomeMedia          = "media"
	OutcomeFastPath       = "fast_path"
	OutcomeReprompt       = "reprompt"
	OutcomeFinalized      = "finalized"
	OutcomeDetour         = "detour"
	OutcomeCancelled      = "cancelled"
	OutcomeCorrection     = "correction"
	OutcomeDisambiguation = "disambiguation"
	OutcomeApplied        = "applied"
)

// Config holds the engine's tunables.
type Config struct {
	PlacePromptCooldown time.Duration
	MediaBatchWindow    time.Duration
	MaxPendingMedia     int
	MaxHistory          int
	SessionIdleTTL      time.Duration
	UseInformalPlace    bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PlacePromptCooldown: 60 * time.Second,
		MediaBatchWindow:    10 * time.Second,
		MaxPendingMedia:     10,
		MaxHistory:          20,
		SessionIdleTTL:      2 * time.Hour,
		UseInformalPlace:    true,
	}
}

// Deps are the engine's collaborators. Interpreter and Vision may be nil.
type Deps struct {
	Sessions    types.SessionStore
	Places      *resolve.PlaceResolver
	Areas       *resolve.AreaResolver
	Interpreter Interpreter
	Vision      VisionAnalyzer
	Finalizer   *Finalizer
	Clock       Clock
}

// Engine runs the turn pipeline.
type Engine struct {
	sessions    types.SessionStore
	places      *resolve.PlaceResolver
	areas       *resolve.AreaResolver
	interpreter Interpreter
	vision      VisionAnalyzer
	finalizer   *Finalizer
	clock       Clock
	cfg         Config
	logger      *zap.Logger
}

// NewEngine wires an engine. Zero config values fall back to DefaultConfig.
func NewEngine(deps Deps, cfg Config, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.PlacePromptCooldown <= 0 {
		cfg.PlacePromptCooldown = def.PlacePromptCooldown
	}
	if cfg.MediaBatchWindow <= 0 {
		cfg.MediaBatchWindow = def.MediaBatchWindow
	}
	if cfg.MaxPendingMedia <= 0 {
		cfg.MaxPendingMedia = def.MaxPendingMedia
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.SessionIdleTTL <= 0 {
		cfg.SessionIdleTTL = def.SessionIdleTTL
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		sessions:    deps.Sessions,
		places:      deps.Places,
		areas:       deps.Areas,
		interpreter: deps.Interpreter,
		vision:      deps.Vision,
		finalizer:   deps.Finalizer,
		clock:       deps.Clock,
		cfg:         cfg,
		logger:      logger.Named("intake"),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// turn is the per-turn working state.
type turn struct {
	sess  *types.Session
	ev    types.InboundEvent
	text  string
	now   time.Time
	reply Replier
	log   *zap.Logger

	cleared          bool
	skipSave         bool
	placeSuggestions []string
}

// HandleTurn processes one inbound event for its session and persists the
// resulting state. Only session store failures are returned; collaborator
// and reply failures degrade the turn instead.
func (e *Engine) HandleTurn(ctx context.Context, ev types.InboundEvent, reply Replier) error {
	start := e.clock.Now()
	log := e.logger.With(zap.String("session_key", string(ev.SessionKey)))

	sess, err := e.sessions.Load(ctx, ev.SessionKey)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	t := &turn{
		sess:  sess,
		ev:    ev,
		text:  strings.TrimSpace(ev.Text),
		now:   start,
		reply: reply,
		log:   log,
	}

	var outcome string
	switch ev.Kind {
	case types.EventKindReset:
		outcome = e.reset(ctx, t)
	case types.EventKindExpire:
		outcome = e.expire(ctx, t)
	default:
		sess.Record(types.HistoryEntry{At: t.now, Text: t.text, Images: len(ev.Images), Mode: sess.Mode}, e.cfg.MaxHistory)
		outcome = e.process(ctx, t)
	}

	switch {
	case t.cleared:
		if err := e.sessions.Clear(ctx, sess.Key); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
	case !t.skipSave:
		sess.UpdatedAt = t.now
		if err := e.sessions.Save(ctx, sess); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}

	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.Observe(e.clock.Now().Sub(start).Seconds())
	log.Debug("turn processed",
		zap.String("outcome", outcome),
		zap.String("mode", string(sess.Mode)),
		zap.Bool("cleared", t.cleared),
	)
	return nil
}

func (e *Engine) process(ctx context.Context, t *turn) string {
	hasImages := len(t.ev.Images) > 0

	if IsReset(t.text) {
		return e.reset(ctx, t)
	}
	if t.text == "" && !hasImages {
		t.skipSave = true
		return OutcomeIgnored
	}

	if !hasImages && (IsGreeting(t.text) || IsNonIncident(t.text)) && !t.sess.HasStructuredContent() {
		e.say(ctx, t, msgGreeting)
		return OutcomeGuard
	}

	if hasImages && e.ingestMedia(ctx, t) {
		return OutcomeMedia
	}

	if e.fastPath(ctx, t) {
		return OutcomeFastPath
	}

	if t.sess.Mode == types.ModeConfirm {
		return e.confirmGate(ctx, t)
	}

	return e.interpretAndApply(ctx, t)
}

// reset clears the session unconditionally.
func (e *Engine) reset(ctx context.Context, t *turn) string {
	t.cleared = true
	t.log.Info("session reset")
	e.say(ctx, t, msgReset)
	return OutcomeReset
}

// expire clears the session if it has been idle for the configured TTL.
func (e *Engine) expire(ctx context.Context, t *turn) string {
	s := t.sess
	if len(s.History) == 0 && !s.HasIncident() {
		t.skipSave = true
		return OutcomeIgnored
	}
	if t.now.Sub(s.UpdatedAt) < e.cfg.SessionIdleTTL {
		t.skipSave = true
		return OutcomeIgnored
	}
	t.cleared = true
	metrics.SessionsExpired.Inc()
	t.log.Info("idle session expired", zap.Time("updated_at", s.UpdatedAt))
	if s.HasIncident() {
		e.say(ctx, t, "Cerré el reporte pendiente por inactividad. Si aún lo necesitas, vuelve a escribirme.")
	}
	return OutcomeExpired
}

func (e *Engine) say(ctx context.Context, t *turn, text string) {
	if t.reply == nil || text == "" {
		return
	}
	if err := t.reply.Reply(ctx, text); err != nil {
		t.log.Warn("reply failed", zap.Error(err))
	}
}

func setPlace(d *types.Draft, res resolve.PlaceResult) {
	d.Lugar = res.Label
	d.Building = res.Building
	d.Floor = res.Floor
	d.Room = res.Room
}

func samePlace(a, b string) bool {
	return textnorm.Simplify(a) == textnorm.Simplify(b)
}

// appendDetail adds text to the draft's details unless an equivalent entry
// (or the description itself) is already there.
func appendDetail(d *types.Draft, text string) bool {
	key := textnorm.Simplify(text)
	if key == "" || key == textnorm.Simplify(d.Descripcion) {
		return false
	}
	for _, existing := range d.Details {
		if textnorm.Simplify(existing) == key {
			return false
		}
	}
	d.Details = append(d.Details, strings.TrimSpace(text))
	return true
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		dup := false
		for _, existing := range list {
			if textnorm.Simplify(existing) == textnorm.Simplify(it) {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, it)
		}
	}
	return list
}
