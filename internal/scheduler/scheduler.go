// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is the callback invoked when a scheduled job fires.
type JobFunc func(ctx context.Context)

type job struct {
	name     string
	schedule string
	fn       JobFunc
}

// Scheduler runs maintenance jobs on cron schedules.
type Scheduler struct {
	jobs   []job
	cron   *cron.Cron
	logger *zap.Logger
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like "@every 10m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates an empty Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithParser(cronParser)),
		logger: logger.Named("scheduler"),
	}
}

// Add registers fn under name. The schedule is validated immediately.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	s.jobs = append(s.jobs, job{name: name, schedule: schedule, fn: fn})
	return nil
}

// Start registers every job and starts the cron ticker. Jobs receive a
// context that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		_, err := s.cron.AddFunc(j.schedule, func() {
			s.logger.Debug("cron firing job", zap.String("name", j.name))
			j.fn(ctx)
		})
		if err != nil {
			s.cancel()
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
		s.logger.Info("scheduled job", zap.String("name", j.name), zap.String("schedule", j.schedule))
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron ticker and waits for running jobs to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}
