package syncer

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"responderd/internal/queue"
	"responderd/internal/telemetry"
	"responderd/internal/uplink"
)

// fakeSender acks or rejects every batch and records what it saw.
type fakeSender struct {
	ack     bool
	err     string
	batches [][]telemetry.QueueEntry
}

func (f *fakeSender) SendBatch(ctx context.Context, req uplink.BatchRequest) uplink.BatchResponse {
	f.batches = append(f.batches, req.Locations)
	if !f.ack {
		return uplink.BatchResponse{Success: false, Error: f.err}
	}
	return uplink.BatchResponse{Success: true, ProcessedCount: len(req.Locations)}
}

type fakeNetwork struct{ online bool }

func (f *fakeNetwork) Online(ctx context.Context) bool { return f.online }

func testEngine(t *testing.T, sender uplink.Sender, online bool) (*queue.Queue, *Engine) {
	t.Helper()
	store, err := queue.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	q, err := queue.New(store, slog.Default())
	if err != nil {
		t.Fatalf("queue.New() failed: %v", err)
	}
	e := New(q, sender, &fakeNetwork{online: online}, "device-test", Options{BatchSize: 2}, slog.Default())
	return q, e
}

func enqueueN(t *testing.T, q *queue.Queue, n int) {
	t.Helper()
	samples := make([]telemetry.Sample, n)
	for i := range samples {
		samples[i] = telemetry.Sample{Latitude: 51.22, Longitude: 6.77, Timestamp: int64(i + 1)}
	}
	if err := q.Enqueue(context.Background(), samples); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 30 * time.Second
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(base, max, c.failures); got != c.want {
			t.Errorf("backoffDelay(failures=%d) = %s, want %s", c.failures, got, c.want)
		}
	}
}

func TestSyncOnce_OfflineSkipsQueue(t *testing.T) {
	sender := &fakeSender{ack: true}
	q, e := testEngine(t, sender, false)
	enqueueN(t, q, 3)

	if err := e.syncOnce(context.Background()); err != nil {
		t.Fatalf("syncOnce() failed: %v", err)
	}

	if st := e.State(); st.Status != StatusOffline {
		t.Errorf("status = %s, want offline", st.Status)
	}
	if len(sender.batches) != 0 {
		t.Error("offline cycle must not send")
	}
	stats, _ := q.Stats(context.Background())
	if stats.Count != 3 {
		t.Errorf("offline cycle changed the queue: %d entries left", stats.Count)
	}
}

func TestSyncOnce_EmptyQueueIdles(t *testing.T) {
	sender := &fakeSender{ack: true}
	_, e := testEngine(t, sender, true)

	if err := e.syncOnce(context.Background()); err != nil {
		t.Fatalf("syncOnce() failed: %v", err)
	}
	st := e.State()
	if st.Status != StatusIdle || st.PendingCount != 0 {
		t.Errorf("state = %+v, want idle with 0 pending", st)
	}
	if len(sender.batches) != 0 {
		t.Error("empty queue must not send")
	}
}

func TestSyncOnce_SuccessDrainsBatch(t *testing.T) {
	sender := &fakeSender{ack: true}
	q, e := testEngine(t, sender, true)
	enqueueN(t, q, 3)

	if err := e.syncOnce(context.Background()); err != nil {
		t.Fatalf("syncOnce() failed: %v", err)
	}

	st := e.State()
	if st.Status != StatusIdle {
		t.Errorf("status = %s, want idle", st.Status)
	}
	if st.LastSyncAt == 0 {
		t.Error("lastSyncAt not recorded")
	}
	if st.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0", st.ConsecutiveFailures)
	}
	if st.PendingCount != 1 {
		t.Errorf("pendingCount = %d, want 1 (batch size 2 of 3)", st.PendingCount)
	}
	if len(sender.batches) != 1 || len(sender.batches[0]) != 2 {
		t.Fatalf("sent batches: %v", sender.batches)
	}
	if sender.batches[0][0].Sequence != 1 || sender.batches[0][1].Sequence != 2 {
		t.Errorf("batch must be the oldest entries in sequence order: %+v", sender.batches[0])
	}
}

func TestSyncOnce_FailureKeepsEntriesAndBacksOff(t *testing.T) {
	sender := &fakeSender{ack: false, err: "HTTP 503: overloaded"}
	q, e := testEngine(t, sender, true)
	enqueueN(t, q, 3)

	for i := 1; i <= 2; i++ {
		if err := e.syncOnce(context.Background()); err != nil {
			t.Fatalf("syncOnce() failed: %v", err)
		}
		st := e.State()
		if st.Status != StatusError {
			t.Errorf("cycle %d: status = %s, want error", i, st.Status)
		}
		if st.ConsecutiveFailures != i {
			t.Errorf("cycle %d: failures = %d, want %d", i, st.ConsecutiveFailures, i)
		}
		if st.LastError != "HTTP 503: overloaded" {
			t.Errorf("cycle %d: lastError = %q", i, st.LastError)
		}
	}

	stats, _ := q.Stats(context.Background())
	if stats.Count != 3 {
		t.Errorf("failed sends must keep entries, %d left", stats.Count)
	}
}

func TestSyncOnce_SuccessResetsFailures(t *testing.T) {
	sender := &fakeSender{ack: false, err: "boom"}
	q, e := testEngine(t, sender, true)
	enqueueN(t, q, 2)

	e.syncOnce(context.Background())
	if st := e.State(); st.ConsecutiveFailures != 1 {
		t.Fatalf("failures = %d, want 1", st.ConsecutiveFailures)
	}

	sender.ack = true
	e.syncOnce(context.Background())
	st := e.State()
	if st.ConsecutiveFailures != 0 || st.Status != StatusIdle || st.LastError != "" {
		t.Errorf("recovery state = %+v", st)
	}
	stats, _ := q.Stats(context.Background())
	if stats.Count != 0 {
		t.Errorf("queue not drained after recovery: %d left", stats.Count)
	}
}

func TestStart_IsIdempotent(t *testing.T) {
	sender := &fakeSender{ack: true}
	_, e := testEngine(t, sender, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Start(ctx)
	e.Start(ctx) // second start is a no-op
	defer e.Stop()

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		t.Error("engine not running after Start")
	}
}

func TestStop_SetsIdleWithoutDraining(t *testing.T) {
	sender := &fakeSender{ack: true}
	q, e := testEngine(t, sender, false) // offline so the loop never drains
	enqueueN(t, q, 2)

	ctx := context.Background()
	e.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	e.Stop()

	if st := e.State(); st.Status != StatusIdle {
		t.Errorf("status after Stop = %s, want idle", st.Status)
	}
	stats, _ := q.Stats(ctx)
	if stats.Count != 2 {
		t.Errorf("Stop must not drain the queue, %d left", stats.Count)
	}
}

func TestNetworkChanged_RestorationTriggersSync(t *testing.T) {
	sender := &fakeSender{ack: true}
	net := &fakeNetwork{online: false}
	store, err := queue.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	q, _ := queue.New(store, slog.Default())
	e := New(q, sender, net, "device-test", Options{BatchSize: 10}, slog.Default())
	enqueueN(t, q, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	time.Sleep(30 * time.Millisecond)
	if st := e.State(); st.Status != StatusOffline {
		t.Fatalf("status = %s, want offline", st.Status)
	}

	net.online = true
	e.NetworkChanged(true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats, _ := q.Stats(ctx)
		if stats.Count == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("queue not drained after network restoration")
}
