package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"pumpwatch/internal/catalog"
	"pumpwatch/internal/dag"
	"pumpwatch/internal/events"
	"pumpwatch/internal/execution"
	"pumpwatch/internal/history"
	"pumpwatch/internal/model"
	"pumpwatch/internal/notification"
	"pumpwatch/internal/strategy"
)

// Config describes one session to start.
type Config struct {
	Mode     model.Mode
	Symbol   string
	Strategy *strategy.Strategy
	Machine  MachineConfig

	// PositionSize is the base-asset quantity requested on entry.
	PositionSize float64
	Side         execution.Side
}

// Deps are the process-wide collaborators a session evaluates against.
type Deps struct {
	Registry *catalog.Registry
	Engine   *dag.Engine
	History  *history.Store
	Emitter  *events.Emitter
	Gateway  execution.Gateway
	Notifier notification.Notifier
}

// Session is one running (session, symbol) evaluation task. All state it
// mutates is its own; the DAG cache and tick window it reads are shared
// but symbol-partitioned.
type Session struct {
	ID    string
	cfg   Config
	deps  Deps
	clock Clock

	machine    *Machine
	variants   *catalog.VariantSet
	variantIDs []string

	// Evaluation hooks for metrics (optional).
	OnEvaluate func(d time.Duration)
}

// New validates the strategy against the registry and builds a session.
// Any error here is a ConfigurationError: the session refuses to start.
func New(cfg Config, deps Deps, clock Clock) (*Session, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("session: missing symbol")
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("session: missing strategy")
	}
	if cfg.Side == "" {
		cfg.Side = execution.SideLong
	}
	if cfg.PositionSize <= 0 {
		cfg.PositionSize = 1
	}

	vs, err := cfg.Strategy.Compile(deps.Registry)
	if err != nil {
		return nil, err
	}

	ids := cfg.Strategy.VariantIDs()
	for _, id := range ids {
		v, _ := vs.Get(id)
		if !v.AppliesTo(cfg.Symbol) {
			return nil, fmt.Errorf("session: strategy %s: variant %s not in scope for symbol %s",
				cfg.Strategy.Name, id, cfg.Symbol)
		}
	}

	id := uuid.NewString()
	return &Session{
		ID:         id,
		cfg:        cfg,
		deps:       deps,
		clock:      clock,
		machine:    NewMachine(id, cfg.Symbol, cfg.Strategy, cfg.Machine, clock.Now()),
		variants:   vs,
		variantIDs: ids,
	}, nil
}

// Symbol returns the session's symbol.
func (s *Session) Symbol() string { return s.cfg.Symbol }

// Mode returns the session's execution mode.
func (s *Session) Mode() model.Mode { return s.cfg.Mode }

// State returns the current lifecycle state.
func (s *Session) State() model.SessionState { return s.machine.State() }

// Clock returns the session's time source.
func (s *Session) Clock() Clock { return s.clock }

// EvaluateTick is the one evaluation function every mode adapter drives:
// compute metrics for the current bucket, step the state machine, journal
// and emit whatever transitions resulted. ComputationFailure and
// DataUnavailable degrade to Indeterminate and the tick completes; only
// unexpected evaluation errors fault the session.
func (s *Session) EvaluateTick(ctx context.Context) {
	now := s.clock.Now()
	start := time.Now()
	bucket := model.BucketOf(now, s.deps.Engine.BucketWidth())

	snap, err := s.deps.Engine.Evaluate(ctx, s.variants, s.cfg.Symbol, bucket, s.variantIDs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return // session stopping; discard
		}
		s.fault(ctx, fmt.Sprintf("evaluation failed: %v", err), &snap, now)
		return
	}

	records := s.machine.Step(&snap, now)
	for i := range records {
		s.commit(ctx, &records[i], now)
	}

	if s.OnEvaluate != nil {
		s.OnEvaluate(time.Since(start))
	}
}

// commit journals one transition record (synchronously, before anything
// else sees it), then drives the execution gateway and broadcast streams.
func (s *Session) commit(ctx context.Context, rec *model.TransitionRecord, now time.Time) {
	if err := s.deps.Emitter.EmitTransition(*rec); err != nil {
		// The record is the source of truth; failing to persist it is a
		// fault, not a warning.
		s.fault(ctx, fmt.Sprintf("journal write failed: %v", err), &rec.Metrics, now)
		return
	}

	switch {
	case rec.To == model.StatePositionActive:
		s.submitOrder(ctx, execution.KindOpen, rec)
	case rec.To == model.StateExited && (rec.Trigger == model.TriggerZE1 || rec.Trigger == model.TriggerE1):
		s.submitOrder(ctx, execution.KindClose, rec)
	}

	switch rec.Trigger {
	case model.TriggerS1, model.TriggerZ1, model.TriggerO1, model.TriggerZE1, model.TriggerE1:
		s.deps.Emitter.EmitSignal(model.SignalEvent{
			SessionID: s.ID,
			Symbol:    s.cfg.Symbol,
			Type:      rec.Trigger,
			Metrics:   rec.Metrics,
			TS:        rec.TS,
		})
	}

	if rec.To == model.StateError && s.deps.Notifier != nil {
		alert := notification.Alert{
			Level:   notification.AlertCritical,
			Title:   fmt.Sprintf("session %s entered ERROR", s.ID),
			Message: rec.Reason,
		}
		if err := s.deps.Notifier.Send(ctx, alert); err != nil {
			log.Printf("[session] %s: alert delivery failed: %v", s.ID, err)
		}
	}
}

// submitOrder calls the execution gateway; the result is logged only.
func (s *Session) submitOrder(ctx context.Context, kind execution.OrderKind, rec *model.TransitionRecord) {
	var price float64
	if t, ok := s.deps.History.Window(s.cfg.Symbol).Last(); ok {
		price = t.Price
	}

	res, err := s.deps.Gateway.Submit(ctx, execution.OrderRequest{
		SessionID: s.ID,
		Symbol:    s.cfg.Symbol,
		Kind:      kind,
		Side:      s.cfg.Side,
		Size:      s.cfg.PositionSize,
		Price:     price,
		TS:        rec.TS,
		Trigger:   string(rec.Trigger),
	})
	if err != nil {
		log.Printf("[session] %s: gateway %s error: %v", s.ID, kind, err)
		return
	}
	if !res.Accepted {
		log.Printf("[session] %s: gateway rejected %s: %s", s.ID, kind, res.Message)
		return
	}
	log.Printf("[session] %s: %s %s accepted order=%s", s.ID, kind, s.cfg.Symbol, res.OrderID)
}

// fault moves the machine to ERROR and records the transition. Faults
// affect this session only.
func (s *Session) fault(ctx context.Context, reason string, snap *model.MetricSnapshot, now time.Time) {
	rec := s.machine.Fault(reason, snap, now)
	if rec == nil {
		return // already in ERROR
	}
	log.Printf("[session] %s: FAULT: %s", s.ID, reason)
	s.commit(ctx, rec, now)
}

// Acknowledge is the external recovery step out of ERROR.
func (s *Session) Acknowledge(ctx context.Context) error {
	now := s.clock.Now()
	rec, err := s.machine.Acknowledge(now)
	if err != nil {
		return err
	}
	s.commit(ctx, rec, now)
	log.Printf("[session] %s: recovered via operator acknowledgement", s.ID)
	return nil
}
