package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/guttosm/candledesk/internal/logger"
	"github.com/guttosm/candledesk/internal/metrics"
)

// RunFunc is one execution of a scheduled task.
type RunFunc func(ctx context.Context) error

// Task runs a function immediately and then on every interval until stopped.
//
// Each run gets its own goroutine, so a slow run never delays the next tick.
// Runs may therefore overlap; callers that care about ordering must make
// late results recognizable (see portfolio sync tokens).
type Task struct {
	name     string
	interval time.Duration
	run      RunFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	loop    sync.WaitGroup
	runs    sync.WaitGroup
	running bool
}

// New builds a stopped Task. A non-positive interval defaults to one second.
func New(name string, interval time.Duration, run RunFunc) *Task {
	if interval <= 0 {
		interval = time.Second
	}
	return &Task{name: name, interval: interval, run: run}
}

func (t *Task) log() *zerolog.Logger {
	l := logger.Component("poller").With().Str("task", t.name).Logger()
	return &l
}

// Start begins scheduling. Calling Start on a running task is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true

	t.loop.Add(1)
	go t.schedule(ctx)
	t.log().Info().Dur("interval", t.interval).Msg("poller started")
}

// Stop cancels in-flight runs and waits for them to return.
func (t *Task) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.loop.Wait()
	t.runs.Wait()
	t.log().Info().Msg("poller stopped")
}

// RunOnce executes the task synchronously, outside the schedule.
func (t *Task) RunOnce(ctx context.Context) error {
	return t.execute(ctx)
}

func (t *Task) schedule(ctx context.Context) {
	defer t.loop.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.spawn(ctx)
		}
	}
}

func (t *Task) spawn(ctx context.Context) {
	t.runs.Add(1)
	go func() {
		defer t.runs.Done()
		_ = t.execute(ctx)
	}()
}

func (t *Task) execute(ctx context.Context) error {
	start := time.Now()
	err := t.run(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		metrics.PollsTotal.WithLabelValues(t.name, "canceled").Inc()
	case err != nil:
		metrics.PollsTotal.WithLabelValues(t.name, "error").Inc()
		t.log().Warn().Dur("elapsed", time.Since(start)).Err(err).Msg("poll failed")
	default:
		metrics.PollsTotal.WithLabelValues(t.name, "ok").Inc()
	}
	return err
}
