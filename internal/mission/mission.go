// Mission state machine: offer, accept, arrive, complete
package mission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"responderd/internal/duty"
	"responderd/internal/queue"
)

const stateKey = "mission_state"

// DefaultArrivalThresholdMeters is the proximity within which a responder
// counts as arrived at the incident. The distance computation itself is the
// location collaborator's job, not this machine's.
const DefaultArrivalThresholdMeters = 50.0

// DefaultAlertTimeout is how long an undecided offer stays pending before
// it times out back to idle.
const DefaultAlertTimeout = 30 * time.Second

// Status of the mission machine.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusArrived  Status = "arrived"
)

// Priority of an incident.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// IncidentLocation is where the incident is.
type IncidentLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// Mission is an offered incident. Immutable once created.
type Mission struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Priority    Priority         `json:"priority"`
	Location    IncidentLocation `json:"location"`
	Description string           `json:"description"`
	CreatedAt   int64            `json:"createdAt"`
}

// Snapshot is a point-in-time view of the machine for diagnostics.
type Snapshot struct {
	Status     Status   `json:"status"`
	Current    *Mission `json:"currentMission"`
	Pending    *Mission `json:"pendingMission"`
	AcceptedAt int64    `json:"acceptedAt,omitempty"`
	ArrivedAt  int64    `json:"arrivedAt,omitempty"`
}

// persistedState is what survives a restart. Pending is deliberately
// absent: an app kill during an undecided offer reverts to idle instead of
// resurrecting a stale alert.
type persistedState struct {
	Status     Status   `json:"status"`
	Mission    *Mission `json:"mission"`
	AcceptedAt int64    `json:"acceptedAt"`
	ArrivedAt  int64    `json:"arrivedAt"`
}

// Machine tracks at most one mission. Accepting drives duty to OnMission;
// completing (or reset) drives it back to OnDuty.
type Machine struct {
	duty   *duty.Machine
	states *queue.StateStore
	logger *slog.Logger

	alertTimeout time.Duration
	now          func() time.Time

	mu         sync.Mutex
	status     Status
	current    *Mission
	pending    *Mission
	acceptedAt int64
	arrivedAt  int64
	alertTimer *time.Timer
}

// New returns an idle Machine. alertTimeout <= 0 selects DefaultAlertTimeout.
func New(dutyMachine *duty.Machine, states *queue.StateStore, alertTimeout time.Duration, logger *slog.Logger) *Machine {
	if alertTimeout <= 0 {
		alertTimeout = DefaultAlertTimeout
	}
	return &Machine{
		duty:         dutyMachine,
		states:       states,
		logger:       logger.With("component", "mission"),
		alertTimeout: alertTimeout,
		status:       StatusIdle,
		now:          time.Now,
	}
}

// Snapshot returns the current machine state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Status:     m.status,
		Current:    m.current,
		Pending:    m.pending,
		AcceptedAt: m.acceptedAt,
		ArrivedAt:  m.arrivedAt,
	}
}

// Receive offers a mission. Only valid while idle; a second offer arriving
// before the first resolves is dropped with a warning, the machine never
// queues pending offers. An undecided offer must answer within the alert
// timeout or it times out back to idle.
func (m *Machine) Receive(ctx context.Context, mission Mission) {
	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		m.logger.Warn("dropping mission offer, not idle", "mission_id", mission.ID, "status", m.status)
		return
	}
	m.status = StatusPending
	m.pending = &mission
	m.alertTimer = time.AfterFunc(m.alertTimeout, func() { m.Timeout(context.Background()) })
	m.mu.Unlock()

	// Pending is not persisted on purpose.
	m.logger.Info("mission offered", "mission_id", mission.ID, "priority", mission.Priority)
}

// Accept takes the pending offer, drives duty to OnMission and persists
// the accepted state. No-op with a warning unless an offer is pending.
func (m *Machine) Accept(ctx context.Context) {
	m.mu.Lock()
	if m.status != StatusPending || m.pending == nil {
		m.mu.Unlock()
		m.logger.Warn("cannot accept, no pending mission", "status", m.status)
		return
	}
	m.stopAlertTimer()
	m.status = StatusAccepted
	m.current = m.pending
	m.pending = nil
	m.acceptedAt = m.now().UnixMilli()
	m.arrivedAt = 0
	snap := m.persistable()
	m.mu.Unlock()

	m.duty.Set(ctx, duty.OnMission)
	m.persist(ctx, snap)
	m.logger.Info("mission accepted", "mission_id", snap.Mission.ID)
}

// Decline rejects the pending offer. Identical effect to Timeout; the two
// exist separately for telemetry.
func (m *Machine) Decline(ctx context.Context) {
	if m.clearPending() {
		m.logger.Info("mission declined")
	} else {
		m.logger.Warn("cannot decline, no pending mission")
	}
}

// Timeout expires the pending offer.
func (m *Machine) Timeout(ctx context.Context) {
	if m.clearPending() {
		m.logger.Info("mission offer timed out")
	}
}

func (m *Machine) clearPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusPending {
		return false
	}
	m.stopAlertTimer()
	m.status = StatusIdle
	m.pending = nil
	return true
}

// MarkArrived records arrival at the incident. Only valid from Accepted.
// Callers are responsible for the proximity check (distance to the mission
// location within the arrival threshold) before invoking this.
func (m *Machine) MarkArrived(ctx context.Context) {
	m.mu.Lock()
	if m.status != StatusAccepted {
		m.mu.Unlock()
		m.logger.Warn("cannot mark arrived, mission not accepted", "status", m.status)
		return
	}
	m.status = StatusArrived
	m.arrivedAt = m.now().UnixMilli()
	snap := m.persistable()
	m.mu.Unlock()

	m.persist(ctx, snap)
	m.logger.Info("arrived at incident", "mission_id", snap.Mission.ID)
}

// Complete finishes the mission from Accepted or Arrived, returns duty to
// OnDuty and clears persisted mission state.
func (m *Machine) Complete(ctx context.Context) {
	m.mu.Lock()
	if m.status != StatusAccepted && m.status != StatusArrived {
		m.mu.Unlock()
		m.logger.Warn("cannot complete, no active mission", "status", m.status)
		return
	}
	id := m.current.ID
	m.toIdleLocked()
	m.mu.Unlock()

	m.duty.Set(ctx, duty.OnDuty)
	m.clearPersisted(ctx)
	m.logger.Info("mission completed", "mission_id", id)
}

// Reset is the operator escape hatch: force duty to OnDuty and the machine
// to idle, clearing persisted state. It runs unconditionally, even when the
// machine already looks idle: a crash after Accept can leave duty persisted
// as OnMission with the mission state lost, and Reset must recover that
// too.
func (m *Machine) Reset(ctx context.Context) {
	m.mu.Lock()
	m.stopAlertTimer()
	m.toIdleLocked()
	m.mu.Unlock()

	m.duty.Set(ctx, duty.OnDuty)
	m.clearPersisted(ctx)
	m.logger.Warn("mission state reset")
}

func (m *Machine) toIdleLocked() {
	m.status = StatusIdle
	m.current = nil
	m.pending = nil
	m.acceptedAt = 0
	m.arrivedAt = 0
}

func (m *Machine) stopAlertTimer() {
	if m.alertTimer != nil {
		m.alertTimer.Stop()
		m.alertTimer = nil
	}
}

func (m *Machine) persistable() persistedState {
	return persistedState{
		Status:     m.status,
		Mission:    m.current,
		AcceptedAt: m.acceptedAt,
		ArrivedAt:  m.arrivedAt,
	}
}

// persist writes the snapshot, logging and swallowing failures; the
// in-memory state stays authoritative for the session.
func (m *Machine) persist(ctx context.Context, st persistedState) {
	if err := m.states.Save(ctx, stateKey, st); err != nil {
		m.logger.Error("persisting mission state failed", "status", st.Status, "err", err)
	}
}

func (m *Machine) clearPersisted(ctx context.Context) {
	if err := m.states.Clear(ctx, stateKey); err != nil {
		m.logger.Error("clearing mission state failed", "err", err)
	}
}

// Restore loads a persisted Accepted or Arrived mission. Anything else
// (including a formerly pending offer) restores to idle.
func (m *Machine) Restore(ctx context.Context) Status {
	var saved persistedState
	found, err := m.states.Load(ctx, stateKey, &saved)
	if err != nil {
		m.logger.Error("restoring mission state failed", "err", err)
		return StatusIdle
	}
	if !found || saved.Mission == nil ||
		(saved.Status != StatusAccepted && saved.Status != StatusArrived) {
		return StatusIdle
	}

	m.mu.Lock()
	m.status = saved.Status
	m.current = saved.Mission
	m.pending = nil
	m.acceptedAt = saved.AcceptedAt
	m.arrivedAt = saved.ArrivedAt
	m.mu.Unlock()

	m.logger.Info("mission state restored", "status", saved.Status, "mission_id", saved.Mission.ID)
	return saved.Status
}
