package session

import (
	"fmt"
	"sync"
	"time"

	"pumpwatch/internal/condition"
	"pumpwatch/internal/model"
	"pumpwatch/internal/strategy"
)

// MachineConfig holds the state machine's timing knobs.
type MachineConfig struct {
	// SignalTimeout bounds how long SIGNAL_DETECTED may wait for entry
	// before cancelling (the O1-or-timeout rule).
	SignalTimeout time.Duration

	// ExitCooldown is the EXITED → MONITORING hold-off that prevents
	// immediate re-triggering on the same micro-pattern.
	ExitCooldown time.Duration
}

// maxCascade bounds transitions applied within a single evaluation tick.
// The longest legitimate chain is MONITORING → SIGNAL_DETECTED →
// POSITION_ACTIVE → EXITED; the bound protects against a zero cool-down
// configuration cycling forever inside one tick.
const maxCascade = 8

// Machine is the per-(session, symbol) finite state machine. Exactly one
// authoritative instance exists per session; the mutex serializes ticks
// against external recovery acknowledgements.
type Machine struct {
	mu        sync.Mutex
	sessionID string
	symbol    string
	strat     *strategy.Strategy
	cfg       MachineConfig

	state      model.SessionState
	enteredAt  time.Time
	lastSignal model.Trigger
}

// NewMachine creates a machine in MONITORING.
func NewMachine(sessionID, symbol string, strat *strategy.Strategy, cfg MachineConfig, now time.Time) *Machine {
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 5 * time.Minute
	}
	if cfg.ExitCooldown <= 0 {
		cfg.ExitCooldown = time.Minute
	}
	return &Machine{
		sessionID: sessionID,
		symbol:    symbol,
		strat:     strat,
		cfg:       cfg,
		state:     model.StateMonitoring,
		enteredAt: now,
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastSignal returns the most recent signal trigger.
func (m *Machine) LastSignal() model.Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSignal
}

// Step applies one evaluation tick: it evaluates the condition trees
// relevant to the current state against snap and applies every transition
// they justify, cascading within the tick (a tick where S1 and Z1 are both
// true moves MONITORING → SIGNAL_DETECTED → POSITION_ACTIVE and returns
// both records, in order). Indeterminate tree results never cause a
// transition — the condition is re-checked next tick.
func (m *Machine) Step(snap *model.MetricSnapshot, now time.Time) []model.TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []model.TransitionRecord
	for i := 0; i < maxCascade; i++ {
		rec := m.stepOnce(snap, now)
		if rec == nil {
			break
		}
		records = append(records, *rec)
	}
	return records
}

// stepOnce applies at most one transition. Caller holds the mutex.
func (m *Machine) stepOnce(snap *model.MetricSnapshot, now time.Time) *model.TransitionRecord {
	switch m.state {
	case model.StateMonitoring:
		if m.evalTrue(model.TriggerS1, snap) {
			return m.transition(model.StateSignalDetected, model.TriggerS1, snap, now, "")
		}

	case model.StateSignalDetected:
		// Cancel checks run before entry: a tick where O1 (or its
		// timeout) and Z1 are simultaneously true must not open a
		// position that is already condemned.
		if m.evalTrue(model.TriggerO1, snap) {
			return m.transition(model.StateExited, model.TriggerO1, snap, now, "cancel condition")
		}
		if !now.Before(m.enteredAt.Add(m.cfg.SignalTimeout)) {
			return m.transition(model.StateExited, model.TriggerO1, snap, now, "signal timeout")
		}
		if m.evalTrue(model.TriggerZ1, snap) {
			return m.transition(model.StatePositionActive, model.TriggerZ1, snap, now, "")
		}

	case model.StatePositionActive:
		// Emergency exit outranks the planned exit when both fire in
		// the same tick.
		if m.evalTrue(model.TriggerE1, snap) {
			return m.transition(model.StateExited, model.TriggerE1, snap, now, "emergency exit")
		}
		if m.evalTrue(model.TriggerZE1, snap) {
			return m.transition(model.StateExited, model.TriggerZE1, snap, now, "planned exit")
		}

	case model.StateExited:
		if !now.Before(m.enteredAt.Add(m.cfg.ExitCooldown)) {
			return m.transition(model.StateMonitoring, model.TriggerCooldown, snap, now, "")
		}

	case model.StateError:
		// Only an explicit external acknowledgement leaves ERROR.
	}
	return nil
}

// Fault forces the machine into ERROR. Used for StateMachineFault-class
// problems: unexpected evaluation errors or internal invariant violations.
func (m *Machine) Fault(reason string, snap *model.MetricSnapshot, now time.Time) *model.TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == model.StateError {
		return nil
	}
	return m.transition(model.StateError, model.TriggerFault, snap, now, reason)
}

// Acknowledge is the explicit external recovery step: ERROR → MONITORING.
// Never automatic — silent auto-recovery could mask a persistent data
// fault.
func (m *Machine) Acknowledge(now time.Time) (*model.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != model.StateError {
		return nil, fmt.Errorf("session %s: acknowledge in state %s, want ERROR", m.sessionID, m.state)
	}
	return m.transition(model.StateMonitoring, model.TriggerRecovered, nil, now, "operator acknowledgement"), nil
}

func (m *Machine) evalTrue(tr model.Trigger, snap *model.MetricSnapshot) bool {
	if snap == nil {
		return false
	}
	return m.strat.Tree(tr).Eval(snap) == condition.True
}

func (m *Machine) transition(to model.SessionState, tr model.Trigger, snap *model.MetricSnapshot, now time.Time, reason string) *model.TransitionRecord {
	rec := &model.TransitionRecord{
		SessionID: m.sessionID,
		Symbol:    m.symbol,
		From:      m.state,
		To:        to,
		Trigger:   tr,
		TS:        now,
		Reason:    reason,
	}
	if snap != nil {
		rec.Metrics = *snap
	}
	m.state = to
	m.enteredAt = now
	switch tr {
	case model.TriggerS1, model.TriggerZ1, model.TriggerO1, model.TriggerZE1, model.TriggerE1:
		m.lastSignal = tr
	}
	return rec
}
