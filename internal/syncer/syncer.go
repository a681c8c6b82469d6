// Sync engine: a single self-rescheduling loop draining the durable queue
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"responderd/internal/queue"
	"responderd/internal/telemetry"
	"responderd/internal/uplink"
)

// Status of the sync engine.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// State is the transient, in-memory sync status. PendingCount is refreshed
// from the queue each cycle, never tracked independently.
type State struct {
	Status              Status `json:"status"`
	LastSyncAt          int64  `json:"lastSyncAt,omitempty"`
	LastError           string `json:"lastError,omitempty"`
	PendingCount        int    `json:"pendingCount"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
}

// NetworkChecker answers whether the ingestion endpoint is reachable.
type NetworkChecker interface {
	Online(ctx context.Context) bool
}

// Options tune the engine's pacing. Zero values select the defaults.
type Options struct {
	BatchSize   int           // entries per batch (default 50)
	Interval    time.Duration // healthy cycle spacing (default 5s)
	BaseBackoff time.Duration // first failure delay (default 1s)
	MaxBackoff  time.Duration // backoff ceiling (default 30s)
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	return o
}

// Engine drains the durable queue to an uplink sender. Exactly one cycle
// is in flight at a time: the next cycle is scheduled only after the
// previous one fully resolves, so no explicit cycle lock is needed.
type Engine struct {
	queue    *queue.Queue
	sender   uplink.Sender
	network  NetworkChecker
	deviceID string
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	st      State
	running bool
	cycling bool
	rerun   bool
	timer   *time.Timer
	ctx     context.Context
}

// New builds an Engine. deviceID identifies this install in batch payloads.
func New(q *queue.Queue, sender uplink.Sender, network NetworkChecker, deviceID string, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		queue:    q,
		sender:   sender,
		network:  network,
		deviceID: deviceID,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "syncer"),
		st:       State{Status: StatusIdle},
	}
}

// State returns a copy of the current sync state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

// Start launches the loop. Calling it while already running is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ctx = ctx
	e.mu.Unlock()

	e.logger.Info("sync started", "interval", e.opts.Interval, "batch_size", e.opts.BatchSize)
	go e.runLoop()
}

// Stop cancels the pending timer and marks the engine idle. An in-flight
// cycle is allowed to finish; the queue is not drained.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.st.Status = StatusIdle
	e.mu.Unlock()

	e.logger.Info("sync stopped")
}

// TriggerImmediate cancels any pending timer, resets backoff, and runs a
// cycle right away. If a cycle is already in flight, another one runs as
// soon as it resolves.
func (e *Engine) TriggerImmediate() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.st.ConsecutiveFailures = 0
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.cycling {
		e.rerun = true
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	go e.runLoop()
}

// NetworkChanged feeds reachability transitions from the network
// collaborator. Going offline flips the status; coming back online after
// being offline triggers an immediate sync.
func (e *Engine) NetworkChanged(online bool) {
	e.mu.Lock()
	wasOffline := e.st.Status == StatusOffline
	if !online {
		e.st.Status = StatusOffline
	}
	e.mu.Unlock()

	if online && wasOffline {
		e.logger.Info("network restored, triggering sync")
		e.TriggerImmediate()
	}
}

func (e *Engine) runLoop() {
	e.mu.Lock()
	if !e.running || e.cycling {
		e.mu.Unlock()
		return
	}
	e.cycling = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	ctx := e.ctx
	e.mu.Unlock()

	if err := e.syncOnce(ctx); err != nil {
		e.logger.Error("sync cycle failed", "err", err)
		e.recordFailure(err.Error())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycling = false
	if !e.running || ctx.Err() != nil {
		return
	}

	delay := e.opts.Interval
	if e.st.Status == StatusError && e.st.ConsecutiveFailures > 0 {
		delay = backoffDelay(e.opts.BaseBackoff, e.opts.MaxBackoff, e.st.ConsecutiveFailures)
		e.logger.Info("backing off", "delay", delay, "failures", e.st.ConsecutiveFailures)
	}
	if e.rerun {
		e.rerun = false
		delay = 0
	}
	e.timer = time.AfterFunc(delay, e.runLoop)
}

// syncOnce is one cycle: reachability, pending count, one batch. A nil
// return does not imply delivery happened; delivery failures are recorded
// in the state, and the error return is for unexpected storage faults.
func (e *Engine) syncOnce(ctx context.Context) error {
	if !e.network.Online(ctx) {
		e.setStatus(StatusOffline)
		return nil
	}

	stats, err := e.queue.Stats(ctx)
	if err != nil {
		return err
	}
	e.setPending(stats.Count)
	if stats.Count == 0 {
		e.setStatus(StatusIdle)
		return nil
	}

	e.setStatus(StatusSyncing)

	var sendErr string
	res, err := e.queue.PeekAndDelete(ctx, e.opts.BatchSize, func(ctx context.Context, entries []telemetry.QueueEntry) bool {
		resp := e.sender.SendBatch(ctx, uplink.BatchRequest{
			Locations: entries,
			DeviceID:  e.deviceID,
			SentAt:    time.Now().UnixMilli(),
		})
		if !resp.Success {
			sendErr = resp.Error
			if sendErr == "" {
				sendErr = "unknown error"
			}
			return false
		}
		return true
	})
	if err != nil {
		return err
	}

	if !res.Success {
		e.recordFailure(sendErr)
		return nil
	}

	if res.Count > 0 {
		e.recordSuccess()
	} else {
		e.setStatus(StatusIdle)
	}
	if stats, err := e.queue.Stats(ctx); err == nil {
		e.setPending(stats.Count)
	}
	return nil
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.st.Status = s
	e.mu.Unlock()
}

func (e *Engine) setPending(n int) {
	e.mu.Lock()
	e.st.PendingCount = n
	e.mu.Unlock()
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	e.st.Status = StatusIdle
	e.st.LastSyncAt = time.Now().UnixMilli()
	e.st.LastError = ""
	e.st.ConsecutiveFailures = 0
	e.mu.Unlock()
}

func (e *Engine) recordFailure(msg string) {
	e.mu.Lock()
	e.st.Status = StatusError
	e.st.LastError = msg
	e.st.ConsecutiveFailures++
	e.mu.Unlock()
}

// backoffDelay is min(base * 2^failures, max).
func backoffDelay(base, max time.Duration, failures int) time.Duration {
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
