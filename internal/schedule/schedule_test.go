package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduleRepeats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{}, zerolog.Nop())
	defer s.Stop()

	var ticks atomic.Int64
	s.Schedule(ctx, "job", 10*time.Millisecond, func(context.Context) {
		ticks.Add(1)
	})

	waitFor(t, 2*time.Second, func() bool { return ticks.Load() >= 3 })
}

func TestCancelStopsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{}, zerolog.Nop())
	defer s.Stop()

	var ticks atomic.Int64
	s.Schedule(ctx, "job", 10*time.Millisecond, func(context.Context) {
		ticks.Add(1)
	})
	waitFor(t, 2*time.Second, func() bool { return ticks.Load() >= 1 })

	s.Cancel("job")
	assert.False(t, s.Has("job"))

	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, ticks.Load())
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New(Options{}, zerolog.Nop())
	defer s.Stop()

	s.Cancel("missing")
	s.Cancel("missing")
	assert.False(t, s.Has("missing"))
}

func TestScheduleReplacesExistingJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{}, zerolog.Nop())
	defer s.Stop()

	var first, second atomic.Int64
	s.Schedule(ctx, "job", time.Hour, func(context.Context) { first.Add(1) })
	s.Schedule(ctx, "job", 10*time.Millisecond, func(context.Context) { second.Add(1) })

	waitFor(t, 2*time.Second, func() bool { return second.Load() >= 1 })
	assert.Equal(t, int64(0), first.Load())
	assert.Equal(t, 10*time.Millisecond, s.Interval("job"))
}

func TestRescheduleKeepsFunc(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{}, zerolog.Nop())
	defer s.Stop()

	var ticks atomic.Int64
	s.Schedule(ctx, "job", time.Hour, func(context.Context) { ticks.Add(1) })
	require.Equal(t, int64(0), ticks.Load())

	// The new, much shorter interval must take effect immediately rather
	// than after the pending hour-long timer.
	s.Reschedule(ctx, "job", 10*time.Millisecond)
	waitFor(t, 2*time.Second, func() bool { return ticks.Load() >= 1 })
	assert.Equal(t, 10*time.Millisecond, s.Interval("job"))
}

func TestRescheduleUnknownJobIsNoop(t *testing.T) {
	s := New(Options{}, zerolog.Nop())
	defer s.Stop()

	s.Reschedule(context.Background(), "missing", time.Second)
	assert.False(t, s.Has("missing"))
}

func TestIntervalUnknownJob(t *testing.T) {
	s := New(Options{}, zerolog.Nop())
	defer s.Stop()

	assert.Equal(t, time.Duration(0), s.Interval("missing"))
}

func TestStopWaitsForInflightTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{}, zerolog.Nop())

	started := make(chan struct{})
	var finished atomic.Bool
	s.Schedule(ctx, "job", time.Millisecond, func(context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	s.Stop()
	assert.True(t, finished.Load())
}

func TestStartupDelayPostponesFirstTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{StartupDelay: 50 * time.Millisecond}, zerolog.Nop())
	defer s.Stop()

	var ticks atomic.Int64
	s.Schedule(ctx, "job", time.Millisecond, func(context.Context) { ticks.Add(1) })

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), ticks.Load())
	waitFor(t, 2*time.Second, func() bool { return ticks.Load() >= 1 })
}
