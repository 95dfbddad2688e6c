package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/user/conserje/internal/types"
)

var (
	// ErrStopped is returned by Enqueue before Start or after Stop.
	ErrStopped = errors.New("queue stopped")
	// ErrLaneFull is returned when a conversation has too many turns waiting.
	ErrLaneFull = errors.New("conversation lane full")
)

const (
	laneBuffer      = 100
	defaultLaneIdle = 5 * time.Minute
)

// failureReply is sent to the guest when processing a turn returns an error.
const failureReply = "Lo siento, tuve un problema procesando tu mensaje. ¿Puedes intentarlo de nuevo?"

// lane is the FIFO of one conversation. Its goroutine exits after the lane
// has been empty for the idle period and is recreated on the next turn.
type lane struct {
	key  types.SessionKey
	runs chan *Run
}

// Queue runs turns one at a time per conversation, with at most
// maxConcurrent conversations being processed at once.
type Queue struct {
	slots     *semaphore.Weighted
	logger    *zap.Logger
	laneIdle  time.Duration
	processor func(*Run) error

	mu      sync.Mutex
	lanes   map[types.SessionKey]*lane
	stopped bool

	pending atomic.Int64
	active  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(maxConcurrent int64, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		slots:    semaphore.NewWeighted(maxConcurrent),
		logger:   logger.Named("queue"),
		laneIdle: defaultLaneIdle,
		lanes:    make(map[types.SessionKey]*lane),
	}
}

// SetLaneIdle changes how long an empty lane keeps its goroutine.
func (q *Queue) SetLaneIdle(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if d > 0 {
		q.laneIdle = d
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = fn
}

// Start must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop rejects new runs, cancels in-flight ones and waits for every lane
// goroutine to exit. Queued runs that never started are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Enqueue appends run to its conversation's lane, starting the lane if
// needed.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || q.ctx == nil {
		return ErrStopped
	}

	l, ok := q.lanes[run.Key]
	if !ok {
		l = &lane{key: run.Key, runs: make(chan *Run, laneBuffer)}
		q.lanes[run.Key] = l
		q.wg.Add(1)
		go q.drain(l, q.laneIdle)
	}

	q.pending.Add(1)
	select {
	case l.runs <- run:
		return nil
	default:
		q.pending.Add(-1)
		return fmt.Errorf("%w: %s", ErrLaneFull, run.Key)
	}
}

func (q *Queue) drain(l *lane, idle time.Duration) {
	defer q.wg.Done()
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case run := <-l.runs:
			q.process(run)
			timer.Reset(idle)
		case <-timer.C:
			if q.retire(l) {
				return
			}
			timer.Reset(idle)
		case <-q.ctx.Done():
			q.pending.Add(-int64(len(l.runs)))
			return
		}
	}
}

// retire removes l when nothing is waiting on it. Enqueue sends under q.mu,
// so a run cannot slip in between the check and the delete.
func (q *Queue) retire(l *lane) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(l.runs) > 0 {
		return false
	}
	delete(q.lanes, l.key)
	q.logger.Debug("lane retired", zap.String("session_key", string(l.key)))
	return true
}

func (q *Queue) process(run *Run) {
	defer q.pending.Add(-1)
	if err := q.slots.Acquire(q.ctx, 1); err != nil {
		return
	}
	defer q.slots.Release(1)

	q.mu.Lock()
	processor := q.processor
	q.mu.Unlock()
	if processor == nil {
		if run.OnDone != nil {
			run.OnDone(nil)
		}
		return
	}

	q.active.Add(1)
	defer q.active.Add(-1)

	started := time.Now()
	run.StartedAt = &started
	run.Status = RunStatusRunning
	run.Attempts++
	run.Ctx = q.ctx

	err := invoke(processor, run)
	ended := time.Now()
	run.EndedAt = &ended
	if err == nil {
		run.Status = RunStatusComplete
	} else {
		run.Status = RunStatusFailed
		run.Error = err
		q.logger.Error("run failed",
			zap.String("run_id", string(run.ID)),
			zap.String("session_key", string(run.Key)),
			zap.Duration("elapsed", ended.Sub(started)),
			zap.Error(err))
		if rerr := run.reply(q.ctx, failureReply); rerr != nil {
			q.logger.Warn("failure reply not sent", zap.Error(rerr))
		}
	}
	if run.OnDone != nil {
		run.OnDone(err)
	}
}

// invoke turns a processor panic into an error so one bad turn cannot take
// the lane down.
func invoke(fn func(*Run) error, run *Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing run %s: %v", run.ID, r)
		}
	}()
	return fn(run)
}

// WaitIdle polls until nothing is queued or running. It returns false if
// timeout passes first.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for !q.idle() {
		if time.Now().After(deadline) {
			return false
		}
		<-tick.C
	}
	return true
}

func (q *Queue) idle() bool {
	return q.pending.Load() == 0 && q.active.Load() == 0
}

// Lanes returns the number of conversations with a live lane.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}
