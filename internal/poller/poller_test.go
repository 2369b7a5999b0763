package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestTask_FiresImmediately(t *testing.T) {
	var runs int32
	task := New("test", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	task.Start(context.Background())
	defer task.Stop()

	waitFor(t, func() bool { return atomic.LoadInt32(&runs) == 1 })
}

func TestTask_RepeatsOnInterval(t *testing.T) {
	var runs int32
	task := New("test", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	task.Start(context.Background())
	defer task.Stop()

	waitFor(t, func() bool { return atomic.LoadInt32(&runs) >= 3 })
}

func TestTask_SlowRunDoesNotBlockNext(t *testing.T) {
	var started int32
	release := make(chan struct{})
	task := New("slow", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&started, 1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	task.Start(context.Background())

	waitFor(t, func() bool { return atomic.LoadInt32(&started) >= 3 })
	close(release)
	task.Stop()
}

func TestTask_StopCancelsAndWaits(t *testing.T) {
	var finished int32
	entered := make(chan struct{}, 1)
	task := New("cancel", time.Hour, func(ctx context.Context) error {
		entered <- struct{}{}
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return ctx.Err()
	})
	task.Start(context.Background())
	<-entered

	task.Stop()
	if atomic.LoadInt32(&finished) != 1 {
		t.Fatalf("Stop returned before the in-flight run finished")
	}
	// idempotent
	task.Stop()
}

func TestTask_StartTwiceIsNoop(t *testing.T) {
	var runs int32
	task := New("twice", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	task.Start(context.Background())
	task.Start(context.Background())
	defer task.Stop()

	waitFor(t, func() bool { return atomic.LoadInt32(&runs) >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&runs); n != 1 {
		t.Fatalf("runs=%d, want 1", n)
	}
}

func TestTask_RunOnceReturnsError(t *testing.T) {
	want := errors.New("boom")
	task := New("once", 0, func(ctx context.Context) error { return want })
	if err := task.RunOnce(context.Background()); !errors.Is(err, want) {
		t.Fatalf("err=%v", err)
	}
}
