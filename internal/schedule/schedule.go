package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JobFunc is invoked on every tick of a scheduled job.
type JobFunc func(ctx context.Context)

// Options tune scheduler behaviour.
type Options struct {
	// StartupDelay postpones the first tick of every job.
	StartupDelay time.Duration
}

// Scheduler owns a keyed set of repeating jobs with cancellable timers.
// Changing a job's interval goes through Reschedule so the new period takes
// effect on the very next tick, never after a stale timer fires.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

type job struct {
	id       string
	interval time.Duration
	fn       JobFunc
	cancel   context.CancelFunc
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		jobs:   make(map[string]*job),
	}
}

// Schedule registers a repeating job. An existing job with the same id is
// replaced, its pending timer cleared.
func (s *Scheduler) Schedule(ctx context.Context, id string, interval time.Duration, fn JobFunc) {
	if interval <= 0 {
		panic("schedule: interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.jobs[id]; ok {
		prev.cancel()
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{id: id, interval: interval, fn: fn, cancel: cancel}
	s.jobs[id] = j

	s.wg.Add(1)
	go s.runJob(jobCtx, j)

	s.logger.Debug().Str("job", id).Dur("interval", interval).Msg("job scheduled")
}

// Reschedule restarts an existing job with a new interval. Unknown ids are
// ignored.
func (s *Scheduler) Reschedule(ctx context.Context, id string, interval time.Duration) {
	s.mu.Lock()
	existing, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.Schedule(ctx, id, interval, existing.fn)
	s.logger.Info().Str("job", id).Dur("interval", interval).Msg("job rescheduled")
}

// Cancel clears a job's pending timer and removes it. Idempotent.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok {
		j.cancel()
		delete(s.jobs, id)
		s.logger.Debug().Str("job", id).Msg("job cancelled")
	}
}

// Has reports whether a job with the given id is scheduled.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Interval returns the configured interval for a job, or zero when unknown.
func (s *Scheduler) Interval(id string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.interval
	}
	return 0
}

// Stop cancels every job and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, j := range s.jobs {
		j.cancel()
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// runJob drives one job until its context is cancelled. The next timer is
// armed only after the current tick returns, so a slow tick delays the
// following one rather than overlapping it.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer s.wg.Done()

	if s.opts.StartupDelay > 0 {
		if !sleepCtx(ctx, s.opts.StartupDelay) {
			return
		}
	}

	for {
		timer := time.NewTimer(j.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		j.fn(ctx)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}
