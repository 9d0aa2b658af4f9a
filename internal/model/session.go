package model

import (
	"encoding/json"
	"time"
)

// Mode selects the execution mode of a session. The evaluation pipeline is
// identical across modes — only the clock and tick source differ.
type Mode string

const (
	ModeLive     Mode = "LIVE"
	ModePaper    Mode = "PAPER"
	ModeBacktest Mode = "BACKTEST"
)

// SessionState is the trade-lifecycle state of one (session, symbol) pair.
type SessionState string

const (
	StateMonitoring     SessionState = "MONITORING"
	StateSignalDetected SessionState = "SIGNAL_DETECTED"
	StatePositionActive SessionState = "POSITION_ACTIVE"
	StateExited         SessionState = "EXITED"
	StateError          SessionState = "ERROR"
)

// Trigger names the condition tree (or internal event) that caused a
// transition.
type Trigger string

const (
	TriggerS1        Trigger = "S1"  // signal detection
	TriggerZ1        Trigger = "Z1"  // zone entry
	TriggerO1        Trigger = "O1"  // cancel / signal timeout
	TriggerZE1       Trigger = "ZE1" // planned exit
	TriggerE1        Trigger = "E1"  // emergency exit
	TriggerCooldown  Trigger = "COOLDOWN"
	TriggerFault     Trigger = "FAULT"
	TriggerRecovered Trigger = "RECOVERED"
)

// TransitionRecord is the append-only, write-once log entry produced for
// every state machine transition. The journal write happens synchronously
// before any external event is emitted — the record is the source of truth,
// the broadcast is a notification.
type TransitionRecord struct {
	SessionID string         `json:"session_id"`
	Symbol    string         `json:"symbol"`
	From      SessionState   `json:"from"`
	To        SessionState   `json:"to"`
	Trigger   Trigger        `json:"trigger"`
	TS        time.Time      `json:"ts"` // session-clock time, not wall clock
	Metrics   MetricSnapshot `json:"metrics"`
	Reason    string         `json:"reason,omitempty"`
}

// JSON returns the JSON-encoded record (hot-path helper, errors ignored).
func (r *TransitionRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// SignalEvent is the notification emitted to the broadcast layer after a
// signal-bearing transition has been journaled.
type SignalEvent struct {
	SessionID string         `json:"session_id"`
	Symbol    string         `json:"symbol"`
	Type      Trigger        `json:"type"` // S1, Z1, O1, ZE1 or E1
	Metrics   MetricSnapshot `json:"metrics"`
	TS        time.Time      `json:"ts"`
}

// JSON returns the JSON-encoded event.
func (e *SignalEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
