package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"responderd/internal/duty"
	"responderd/internal/queue"
	"responderd/internal/telemetry"
)

// Mode describes how samples are currently being produced.
type Mode string

const (
	ModeNone       Mode = "none"
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
)

// AppState mirrors the host application lifecycle.
type AppState string

const (
	AppActive     AppState = "active"
	AppBackground AppState = "background"
)

// Snapshot is a point-in-time view of the coordinator for status endpoints.
type Snapshot struct {
	Tracking      bool              `json:"tracking"`
	Mode          Mode              `json:"mode"`
	AppState      AppState          `json:"appState"`
	Permissions   Permissions       `json:"permissions"`
	LastSample    *telemetry.Sample `json:"lastSample,omitempty"`
	LastUpdateAt  int64             `json:"lastUpdateAt,omitempty"`
	TotalReceived int64             `json:"totalReceived"`
}

type cadenceEvent struct{ cfg duty.Cadence }

type appStateEvent struct{ state AppState }

type samplesEvent struct{ samples []telemetry.Sample }

// Coordinator owns the capture lifecycle: it reacts to duty cadence
// changes and app-state transitions, runs either a foreground polling
// timer or a background watcher, and enqueues every sample it receives.
// All state transitions happen on the single Run loop; accessors take a
// snapshot under the mutex.
type Coordinator struct {
	queue    *queue.Queue
	provider Provider
	watcher  Watcher
	logger   *slog.Logger
	events   chan any

	mu       sync.Mutex
	cfg      duty.Cadence
	tracking bool
	mode     Mode
	appState AppState
	perms    Permissions
	last     *telemetry.Sample
	lastAt   int64
	total    int64
}

// New builds a coordinator. watcher may be nil; background cadences then
// fall back to foreground polling.
func New(q *queue.Queue, provider Provider, watcher Watcher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		queue:    q,
		provider: provider,
		watcher:  watcher,
		logger:   logger,
		events:   make(chan any, 16),
		mode:     ModeNone,
		appState: AppActive,
	}
}

// SetCadence asks the coordinator to adopt a new capture cadence. The
// Run loop must be active; duty.Machine.OnChange is wired here.
func (c *Coordinator) SetCadence(cfg duty.Cadence) {
	c.events <- cadenceEvent{cfg: cfg}
}

// AppStateChanged reports a host lifecycle transition.
func (c *Coordinator) AppStateChanged(state AppState) {
	c.events <- appStateEvent{state: state}
}

// Snapshot returns the current capture view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Tracking:      c.tracking,
		Mode:          c.mode,
		AppState:      c.appState,
		Permissions:   c.perms,
		LastUpdateAt:  c.lastAt,
		TotalReceived: c.total,
	}
	if c.last != nil {
		s := *c.last
		snap.LastSample = &s
	}
	return snap
}

// LastSample returns the most recent fix, or nil when none arrived yet.
func (c *Coordinator) LastSample() *telemetry.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	s := *c.last
	return &s
}

// ForceUpdate fetches one high-accuracy fix immediately, outside any
// timer, and enqueues it. Used by the manual refresh operation.
func (c *Coordinator) ForceUpdate(ctx context.Context) (telemetry.Sample, error) {
	perms := c.provider.Permissions(ctx)
	c.setPerms(perms)
	if !perms.Foreground {
		return telemetry.Sample{}, errors.New("location permission not granted")
	}
	sample, err := c.provider.Current(ctx, telemetry.AccuracyHigh)
	if err != nil {
		return telemetry.Sample{}, fmt.Errorf("fetching location: %w", err)
	}
	c.ingest(sample)
	return sample, nil
}

// Run processes capture events until ctx is cancelled. It owns the
// polling timer and the watcher registration.
func (c *Coordinator) Run(ctx context.Context) {
	var tick <-chan time.Time
	var ticker *time.Ticker

	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tick = nil
		}
	}
	stopAll := func() {
		stopTicker()
		if c.watcher != nil {
			c.watcher.Stop()
		}
		c.setTracking(false, ModeNone)
	}
	startPolling := func(cfg duty.Cadence) {
		stopTicker()
		ticker = time.NewTicker(cfg.Interval)
		tick = ticker.C
		c.setTracking(true, ModeForeground)
		c.pollOnce(ctx, cfg)
	}

	for {
		select {
		case <-ctx.Done():
			stopAll()
			return

		case ev := <-c.events:
			switch ev := ev.(type) {
			case cadenceEvent:
				stopAll()
				c.setCfg(ev.cfg)
				if !ev.cfg.Enabled() {
					continue
				}
				perms := c.provider.RequestPermissions(ctx)
				c.setPerms(perms)
				if !perms.Foreground {
					c.logger.Warn("capture disabled, location permission denied")
					continue
				}
				if perms.Background && c.watcher != nil {
					err := c.watcher.Start(ev.cfg, func(samples []telemetry.Sample) {
						c.events <- samplesEvent{samples: samples}
					})
					if err == nil {
						c.setTracking(true, ModeBackground)
						c.logger.Info("background capture started",
							"interval", ev.cfg.Interval,
							"accuracy", ev.cfg.Accuracy)
						continue
					}
					c.logger.Warn("background capture unavailable, polling instead", "error", err)
				}
				startPolling(ev.cfg)
				c.logger.Info("foreground capture started",
					"interval", ev.cfg.Interval,
					"accuracy", ev.cfg.Accuracy)

			case appStateEvent:
				c.setAppState(ev.state)
				if ev.state != AppActive {
					continue
				}
				// Coming back to the foreground: the grant can have been
				// revoked while away, and a polling timer may have been
				// throttled by the host. Re-check and restart.
				cfg, tracking, mode := c.trackingState()
				if !tracking || mode != ModeForeground {
					continue
				}
				perms := c.provider.Permissions(ctx)
				c.setPerms(perms)
				if !perms.Foreground {
					c.logger.Warn("capture stopped, permission revoked while backgrounded")
					stopAll()
					continue
				}
				startPolling(cfg)

			case samplesEvent:
				for _, s := range ev.samples {
					c.ingest(s)
				}
			}

		case <-tick:
			cfg, _, _ := c.trackingState()
			c.pollOnce(ctx, cfg)
		}
	}
}

func (c *Coordinator) pollOnce(ctx context.Context, cfg duty.Cadence) {
	// Foreground polling only runs while the app is active; the watcher
	// covers the backgrounded case.
	c.mu.Lock()
	active := c.appState == AppActive
	c.mu.Unlock()
	if !active {
		return
	}
	sample, err := c.provider.Current(ctx, cfg.Accuracy)
	if err != nil {
		c.logger.Debug("location fix failed", "error", err)
		return
	}
	c.ingest(sample)
}

func (c *Coordinator) ingest(sample telemetry.Sample) {
	if err := c.queue.Enqueue(context.Background(), []telemetry.Sample{sample}); err != nil {
		c.logger.Error("enqueue failed, sample dropped", "error", err)
	}
	c.mu.Lock()
	s := sample
	c.last = &s
	c.lastAt = telemetry.NowMillis()
	c.total++
	c.mu.Unlock()
}

func (c *Coordinator) setTracking(tracking bool, mode Mode) {
	c.mu.Lock()
	c.tracking = tracking
	c.mode = mode
	c.mu.Unlock()
}

func (c *Coordinator) setCfg(cfg duty.Cadence) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Coordinator) setPerms(perms Permissions) {
	c.mu.Lock()
	c.perms = perms
	c.mu.Unlock()
}

func (c *Coordinator) setAppState(state AppState) {
	c.mu.Lock()
	c.appState = state
	c.mu.Unlock()
}

func (c *Coordinator) trackingState() (duty.Cadence, bool, Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.tracking, c.mode
}
