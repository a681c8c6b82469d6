// Duty state machine gating capture cadence
package duty

import (
	"context"
	"log/slog"
	"sync"

	"responderd/internal/queue"
)

const stateKey = "duty_state"

// State is the responder's duty status.
type State string

const (
	OffDuty   State = "off_duty"
	OnDuty    State = "on_duty"
	OnMission State = "on_mission"
)

// Valid reports whether s is one of the defined duty states.
func (s State) Valid() bool {
	switch s {
	case OffDuty, OnDuty, OnMission:
		return true
	}
	return false
}

// Machine owns the duty state. Transitions persist fire-and-forget: a
// persistence failure is logged and the in-memory state stays authoritative
// for the session.
type Machine struct {
	states *queue.StateStore
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	cadences map[State]Cadence
	onChange func(State, Cadence)
}

// New returns a Machine in the OffDuty state using the given cadence table.
// Missing cadence entries fall back to Defaults.
func New(states *queue.StateStore, cadences map[State]Cadence, logger *slog.Logger) *Machine {
	table := make(map[State]Cadence, len(Defaults))
	for s, c := range Defaults {
		table[s] = c
	}
	for s, c := range cadences {
		table[s] = c
	}
	return &Machine{
		states:   states,
		logger:   logger.With("component", "duty"),
		state:    OffDuty,
		cadences: table,
	}
}

// OnChange registers a callback invoked after every transition with the new
// state and its cadence. At most one callback is supported; it runs outside
// the machine's lock.
func (m *Machine) OnChange(fn func(State, Cadence)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// State returns the current duty state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns the capture cadence for the current state.
func (m *Machine) Config() Cadence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cadences[m.state]
}

// ConfigFor returns the capture cadence for an arbitrary state.
func (m *Machine) ConfigFor(s State) Cadence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cadences[s]
}

// CanToggle reports whether Toggle would change state.
func (m *Machine) CanToggle() bool {
	return m.State() != OnMission
}

// Toggle flips between OffDuty and OnDuty. While OnMission it is a no-op:
// missions release duty only through completion. Returns the resulting state.
func (m *Machine) Toggle(ctx context.Context) State {
	m.mu.Lock()
	if m.state == OnMission {
		m.mu.Unlock()
		m.logger.Warn("cannot toggle duty while on mission")
		return OnMission
	}
	next := OnDuty
	if m.state == OnDuty {
		next = OffDuty
	}
	m.mu.Unlock()

	m.Set(ctx, next)
	return next
}

// Set transitions to s unconditionally and persists the new state. Used by
// the mission machine for OnMission entry/exit.
func (m *Machine) Set(ctx context.Context, s State) {
	m.mu.Lock()
	m.state = s
	cadence := m.cadences[s]
	fn := m.onChange
	m.mu.Unlock()

	m.logger.Info("duty state changed", "state", s)
	m.persist(ctx, s)

	if fn != nil {
		fn(s, cadence)
	}
}

// persist writes the state snapshot, logging and swallowing failures so a
// broken disk never blocks a duty transition.
func (m *Machine) persist(ctx context.Context, s State) {
	if err := m.states.Save(ctx, stateKey, s); err != nil {
		m.logger.Error("persisting duty state failed", "state", s, "err", err)
	}
}

// Restore loads the last persisted state. Unknown or missing values leave
// the machine OffDuty. The restored state is returned so the caller can
// resume capture when it is not OffDuty.
func (m *Machine) Restore(ctx context.Context) State {
	var saved State
	found, err := m.states.Load(ctx, stateKey, &saved)
	if err != nil {
		m.logger.Error("restoring duty state failed", "err", err)
		return OffDuty
	}
	if !found || !saved.Valid() {
		return OffDuty
	}

	m.mu.Lock()
	m.state = saved
	cadence := m.cadences[saved]
	fn := m.onChange
	m.mu.Unlock()

	m.logger.Info("duty state restored", "state", saved)
	if fn != nil && saved != OffDuty {
		fn(saved, cadence)
	}
	return saved
}
