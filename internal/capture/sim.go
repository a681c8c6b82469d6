package capture

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"responderd/internal/duty"
	"responderd/internal/telemetry"
)

// SimProvider produces a random walk around a start point. It stands in
// for the platform location stack during development and in tests.
type SimProvider struct {
	mu      sync.Mutex
	lat     float64
	lon     float64
	alt     float64
	heading float64
	perms   Permissions
	rand    *rand.Rand
}

// NewSimProvider starts the walk at the given coordinates with all
// permissions granted.
func NewSimProvider(lat, lon float64) *SimProvider {
	return &SimProvider{
		lat:     lat,
		lon:     lon,
		alt:     40,
		heading: rand.Float64() * 2 * math.Pi,
		perms:   Permissions{Foreground: true, Background: true},
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetPermissions overrides the simulated grant.
func (p *SimProvider) SetPermissions(perms Permissions) {
	p.mu.Lock()
	p.perms = perms
	p.mu.Unlock()
}

func (p *SimProvider) Permissions(ctx context.Context) Permissions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perms
}

func (p *SimProvider) RequestPermissions(ctx context.Context) Permissions {
	return p.Permissions(ctx)
}

// Current advances the walk one step and returns the new fix. Step size
// is a brisk walking pace; the heading drifts so the track curves
// instead of jittering in place.
func (p *SimProvider) Current(ctx context.Context, accuracy telemetry.Accuracy) (telemetry.Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.heading += (p.rand.Float64() - 0.5) * 0.6
	const stepMeters = 12.0
	dLat := stepMeters * math.Cos(p.heading) / 111320.0
	dLon := stepMeters * math.Sin(p.heading) / (111320.0 * math.Cos(p.lat*math.Pi/180))
	p.lat += dLat
	p.lon += dLon
	p.alt += (p.rand.Float64() - 0.5) * 1.5

	acc := 25.0 + p.rand.Float64()*10
	if accuracy == telemetry.AccuracyHigh {
		acc = 4.0 + p.rand.Float64()*4
	}
	alt := p.alt
	return telemetry.Sample{
		Latitude:  p.lat,
		Longitude: p.lon,
		Accuracy:  &acc,
		Altitude:  &alt,
		Timestamp: telemetry.NowMillis(),
	}, nil
}

// SimWatcher runs a timer-driven delivery loop over a provider,
// mimicking a host background location task.
type SimWatcher struct {
	provider *SimProvider
	mu       sync.Mutex
	stop     chan struct{}
}

func NewSimWatcher(provider *SimProvider) *SimWatcher {
	return &SimWatcher{provider: provider}
}

func (w *SimWatcher) Start(cfg duty.Cadence, deliver func([]telemetry.Sample)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return nil
	}
	stop := make(chan struct{})
	w.stop = stop

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sample, err := w.provider.Current(context.Background(), cfg.Accuracy)
				if err != nil {
					continue
				}
				deliver([]telemetry.Sample{sample})
			}
		}
	}()
	return nil
}

func (w *SimWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}
