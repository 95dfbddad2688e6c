package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/internal/types"
)

// TurnHandler processes one event for a conversation.
type TurnHandler interface {
	HandleTurn(ctx context.Context, ev types.InboundEvent, reply intake.Replier) error
}

// Gateway turns inbound events from every channel into runs on the
// conversation's lane, so one conversation never has two turns in flight.
type Gateway struct {
	Queue  *Queue
	logger *zap.Logger
}

// New creates a Gateway with the given concurrency limit for simultaneous
// turn processing across conversations.
func New(maxConcurrent int64, logger *zap.Logger) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		Queue:  NewQueue(maxConcurrent, logger),
		logger: logger.Named("gateway"),
	}
}

// Use routes every run to handler.
func (g *Gateway) Use(handler TurnHandler) {
	g.Queue.SetProcessor(func(run *Run) error {
		return handler.HandleTurn(run.Ctx, *run.Event, intake.ReplyFunc(run.reply))
	})
}

// Start starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Lanes reports how many conversations currently hold a lane.
func (g *Gateway) Lanes() int { return g.Queue.Lanes() }

// Stop stops the queue and waits for outstanding work to finish.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithReply sets the channel used to answer the conversation.
func WithReply(fn ReplyFunc) RunOption {
	return func(r *Run) { r.Reply = fn }
}

// WithOnDone sets a callback invoked once the run has been processed.
func WithOnDone(fn func(err error)) RunOption {
	return func(r *Run) { r.OnDone = fn }
}

// HandleInbound wraps the event in a Run and enqueues it on its
// conversation's lane. Events without a kind are guest turns.
func (g *Gateway) HandleInbound(_ context.Context, event *types.InboundEvent, opts ...RunOption) error {
	if event.SessionKey == "" {
		return fmt.Errorf("inbound event from %s has no session key", event.Source)
	}
	if event.Kind == "" {
		event.Kind = types.EventKindTurn
	}
	run := NewRun(event)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return fmt.Errorf("enqueue %s: %w", event.SessionKey, err)
	}
	g.logger.Debug("enqueued",
		zap.String("run_id", string(run.ID)),
		zap.String("session_key", string(run.Key)),
		zap.String("kind", string(event.Kind)))
	return nil
}

// Reset enqueues a reset for key through its lane.
func (g *Gateway) Reset(ctx context.Context, key types.SessionKey, source string, opts ...RunOption) error {
	return g.HandleInbound(ctx, &types.InboundEvent{Kind: types.EventKindReset, Source: source, SessionKey: key}, opts...)
}

// Expire enqueues an idle-expiry check for key through its lane.
func (g *Gateway) Expire(ctx context.Context, key types.SessionKey, opts ...RunOption) error {
	return g.HandleInbound(ctx, &types.InboundEvent{Kind: types.EventKindExpire, Source: "scheduler", SessionKey: key}, opts...)
}
