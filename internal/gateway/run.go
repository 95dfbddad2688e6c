package gateway

import (
	"context"
	"time"

	"github.com/user/conserje/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// ReplyFunc sends text back to the conversation a run came from.
type ReplyFunc func(ctx context.Context, text string) error

// Run tracks the processing of a single inbound event for a conversation.
type Run struct {
	ID        types.RunID
	Key       types.SessionKey
	Event     *types.InboundEvent
	Status    RunStatus
	Attempts  int
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     error
	Reply     ReplyFunc
	OnDone    func(err error)
	Ctx       context.Context
}

// NewRun creates a Run in the Queued state for the event's conversation.
func NewRun(event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewRunID(),
		Key:       event.SessionKey,
		Event:     event,
		Status:    RunStatusQueued,
		Attempts:  0,
		CreatedAt: time.Now(),
	}
}

// reply sends text through the run's reply channel, if any.
func (r *Run) reply(ctx context.Context, text string) error {
	if r.Reply == nil {
		return nil
	}
	return r.Reply(ctx, text)
}
