package capture

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"responderd/internal/duty"
	"responderd/internal/queue"
	"responderd/internal/telemetry"
)

func testQueue(t *testing.T) *queue.Queue {
	t.Helper()
	store, err := queue.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	q, err := queue.New(store, discardLogger())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startCoordinator(t *testing.T, c *Coordinator) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDisabledCadenceStopsTracking(t *testing.T) {
	q := testQueue(t)
	c := New(q, NewSimProvider(51.2, 6.8), nil, discardLogger())
	startCoordinator(t, c)

	c.SetCadence(duty.Cadence{Accuracy: telemetry.AccuracyBalanced})
	waitFor(t, func() bool {
		snap := c.Snapshot()
		return !snap.Tracking && snap.Mode == ModeNone
	}, "expected tracking off for disabled cadence")
}

func TestDeniedPermissionBlocksCapture(t *testing.T) {
	q := testQueue(t)
	provider := NewSimProvider(51.2, 6.8)
	provider.SetPermissions(Permissions{})
	c := New(q, provider, nil, discardLogger())
	startCoordinator(t, c)

	c.SetCadence(duty.Cadence{Interval: 10 * time.Millisecond, Accuracy: telemetry.AccuracyBalanced})
	time.Sleep(50 * time.Millisecond)

	snap := c.Snapshot()
	if snap.Tracking {
		t.Fatal("tracking should stay off without foreground permission")
	}
	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 0 {
		t.Fatalf("queue should be empty, got %d", stats.Count)
	}
}

func TestForegroundPollingEnqueues(t *testing.T) {
	q := testQueue(t)
	provider := NewSimProvider(51.2, 6.8)
	provider.SetPermissions(Permissions{Foreground: true})
	c := New(q, provider, nil, discardLogger())
	startCoordinator(t, c)

	c.SetCadence(duty.Cadence{Interval: 10 * time.Millisecond, Accuracy: telemetry.AccuracyBalanced})
	waitFor(t, func() bool { return c.Snapshot().TotalReceived >= 3 }, "expected polled samples")

	snap := c.Snapshot()
	if snap.Mode != ModeForeground || !snap.Tracking {
		t.Fatalf("expected foreground tracking, got %+v", snap)
	}
	if snap.LastSample == nil {
		t.Fatal("expected a last sample")
	}
	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count == 0 {
		t.Fatal("samples should have been enqueued")
	}
}

func TestBackgroundWatcherPreferred(t *testing.T) {
	q := testQueue(t)
	provider := NewSimProvider(51.2, 6.8)
	c := New(q, provider, NewSimWatcher(provider), discardLogger())
	startCoordinator(t, c)

	c.SetCadence(duty.Cadence{Interval: 10 * time.Millisecond, Accuracy: telemetry.AccuracyHigh})
	waitFor(t, func() bool {
		snap := c.Snapshot()
		return snap.Mode == ModeBackground && snap.TotalReceived >= 2
	}, "expected background capture to deliver samples")
}

func TestBackgroundedAppPausesPolling(t *testing.T) {
	q := testQueue(t)
	provider := NewSimProvider(51.2, 6.8)
	provider.SetPermissions(Permissions{Foreground: true})
	c := New(q, provider, nil, discardLogger())
	startCoordinator(t, c)

	c.SetCadence(duty.Cadence{Interval: 10 * time.Millisecond, Accuracy: telemetry.AccuracyBalanced})
	waitFor(t, func() bool { return c.Snapshot().TotalReceived >= 1 }, "expected initial samples")

	c.AppStateChanged(AppBackground)
	waitFor(t, func() bool { return c.Snapshot().AppState == AppBackground }, "app state not applied")
	before := c.Snapshot().TotalReceived
	time.Sleep(60 * time.Millisecond)
	after := c.Snapshot().TotalReceived
	if after > before+1 {
		t.Fatalf("polling should pause while backgrounded: %d -> %d", before, after)
	}

	c.AppStateChanged(AppActive)
	waitFor(t, func() bool { return c.Snapshot().TotalReceived > after }, "polling should resume on activation")
}

func TestResumeStopsWhenPermissionRevoked(t *testing.T) {
	q := testQueue(t)
	provider := NewSimProvider(51.2, 6.8)
	provider.SetPermissions(Permissions{Foreground: true})
	c := New(q, provider, nil, discardLogger())
	startCoordinator(t, c)

	c.SetCadence(duty.Cadence{Interval: 10 * time.Millisecond, Accuracy: telemetry.AccuracyBalanced})
	waitFor(t, func() bool { return c.Snapshot().Tracking }, "expected tracking")

	c.AppStateChanged(AppBackground)
	provider.SetPermissions(Permissions{})
	c.AppStateChanged(AppActive)

	waitFor(t, func() bool {
		snap := c.Snapshot()
		return !snap.Tracking && snap.Mode == ModeNone
	}, "tracking should stop after revocation")
}

func TestForceUpdate(t *testing.T) {
	q := testQueue(t)
	provider := NewSimProvider(51.2, 6.8)
	c := New(q, provider, nil, discardLogger())

	sample, err := c.ForceUpdate(context.Background())
	if err != nil {
		t.Fatalf("force update: %v", err)
	}
	if sample.Accuracy == nil || *sample.Accuracy > 10 {
		t.Fatalf("expected a high-accuracy fix, got %+v", sample.Accuracy)
	}
	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 1 {
		t.Fatalf("expected 1 queued entry, got %d", stats.Count)
	}

	provider.SetPermissions(Permissions{})
	if _, err := c.ForceUpdate(context.Background()); err == nil {
		t.Fatal("expected error without permission")
	}
}
