package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pumpwatch/internal/model"
)

// Info is a read-only snapshot of one session for listing endpoints.
type Info struct {
	ID       string             `json:"id"`
	Symbol   string             `json:"symbol"`
	Mode     model.Mode         `json:"mode"`
	State    model.SessionState `json:"state"`
	Strategy string             `json:"strategy"`
}

// runner pairs a session with its cancel handle.
type runner struct {
	sess   *Session
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the running sessions of one process: start, stop, list,
// and the operator recovery path out of ERROR. The evaluation loops
// themselves are driven by schedulers the caller attaches via Run.
type Manager struct {
	mu      sync.Mutex
	running map[string]*runner

	// OnStateCount, if set, receives (active, inError) after changes.
	OnStateCount func(active, inError int)
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{running: make(map[string]*runner, 8)}
}

// Run registers sess and drives it with run (a scheduler's Run method)
// in its own goroutine until Stop or parent cancellation.
func (m *Manager) Run(parent context.Context, sess *Session, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	r := &runner{sess: sess, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.running[sess.ID] = r
	m.mu.Unlock()
	m.countStates()

	go func() {
		defer close(r.done)
		run(ctx)

		m.mu.Lock()
		delete(m.running, sess.ID)
		m.mu.Unlock()
		m.countStates()
	}()
}

// Stop cancels one session's loop and waits for it to drain.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	r, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("manager: no running session %s", id)
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("manager: session %s did not stop in time", id)
	}
	return nil
}

// StopAll cancels every session and waits for the loops to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	runners := make([]*runner, 0, len(m.running))
	for _, r := range m.running {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	for _, r := range runners {
		r.cancel()
	}
	for _, r := range runners {
		<-r.done
	}
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.running[id]
	if !ok {
		return nil, false
	}
	return r.sess, true
}

// List snapshots all running sessions.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.running))
	for _, r := range m.running {
		out = append(out, Info{
			ID:       r.sess.ID,
			Symbol:   r.sess.Symbol(),
			Mode:     r.sess.Mode(),
			State:    r.sess.State(),
			Strategy: r.sess.cfg.Strategy.Name,
		})
	}
	return out
}

// Acknowledge routes an operator recovery acknowledgement to one session.
func (m *Manager) Acknowledge(ctx context.Context, id string) error {
	sess, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("manager: no running session %s", id)
	}
	if err := sess.Acknowledge(ctx); err != nil {
		return err
	}
	m.countStates()
	return nil
}

func (m *Manager) countStates() {
	if m.OnStateCount == nil {
		return
	}
	m.mu.Lock()
	active, inError := 0, 0
	for _, r := range m.running {
		active++
		if r.sess.State() == model.StateError {
			inError++
		}
	}
	m.mu.Unlock()
	m.OnStateCount(active, inError)
}
