package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/types"
)

// ExpireFunc enqueues an expiry check for one conversation.
type ExpireFunc func(ctx context.Context, key types.SessionKey) error

// IdleSweeper finds conversations idle for longer than the TTL and asks for
// their expiry. The engine decides again when the event reaches the lane, so
// a guest who wrote in the meantime keeps their draft.
type IdleSweeper struct {
	sessions types.SessionStore
	ttl      time.Duration
	expire   ExpireFunc
	now      func() time.Time
	logger   *zap.Logger
}

// NewIdleSweeper creates a sweeper.
func NewIdleSweeper(sessions types.SessionStore, ttl time.Duration, expire ExpireFunc, logger *zap.Logger) *IdleSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdleSweeper{
		sessions: sessions,
		ttl:      ttl,
		expire:   expire,
		now:      time.Now,
		logger:   logger.Named("sweeper"),
	}
}

// Sweep enqueues an expiry for every idle session with content and returns
// how many were enqueued.
func (w *IdleSweeper) Sweep(ctx context.Context) (int, error) {
	sessions, err := w.sessions.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	now := w.now()
	n := 0
	for _, s := range sessions {
		if len(s.History) == 0 && !s.HasIncident() {
			continue
		}
		if now.Sub(s.UpdatedAt) < w.ttl {
			continue
		}
		if err := w.expire(ctx, s.Key); err != nil {
			w.logger.Warn("enqueue expiry", zap.String("session_key", string(s.Key)), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// Job adapts Sweep to the scheduler.
func (w *IdleSweeper) Job() JobFunc {
	return func(ctx context.Context) {
		n, err := w.Sweep(ctx)
		if err != nil {
			w.logger.Error("idle sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			w.logger.Info("idle sessions queued for expiry", zap.Int("count", n))
		}
	}
}
