// Package events delivers transition records and signal events to their
// consumers. Each consumer gets its own typed channel; the producer pushes
// once per event and drops for a full consumer instead of blocking the
// evaluation loop. The journal write is the one synchronous step: a
// transition is durable before anyone is notified of it.
package events

import (
	"fmt"
	"log"
	"sync"

	"pumpwatch/internal/model"
)

// Journal is the append-only transition log. Implemented by the SQLite
// store; the write happens synchronously inside Emit.
type Journal interface {
	AppendTransition(rec model.TransitionRecord) error
}

// Emitter owns the consumer channels for both event streams.
type Emitter struct {
	mu      sync.RWMutex
	journal Journal
	bufSize int

	transitionSubs []chan model.TransitionRecord
	signalSubs     []chan model.SignalEvent

	// OnDrop is called when an event is dropped for a slow consumer.
	// stream is "transitions" or "signals".
	OnDrop func(stream string, subscriberIdx int)
}

// NewEmitter creates an emitter writing through the given journal.
// bufSize is the per-subscriber channel buffer.
func NewEmitter(journal Journal, bufSize int) *Emitter {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Emitter{journal: journal, bufSize: bufSize}
}

// SubscribeTransitions returns a new consumer channel for transition
// records.
func (e *Emitter) SubscribeTransitions() <-chan model.TransitionRecord {
	ch := make(chan model.TransitionRecord, e.bufSize)
	e.mu.Lock()
	e.transitionSubs = append(e.transitionSubs, ch)
	e.mu.Unlock()
	return ch
}

// SubscribeSignals returns a new consumer channel for signal events.
func (e *Emitter) SubscribeSignals() <-chan model.SignalEvent {
	ch := make(chan model.SignalEvent, e.bufSize)
	e.mu.Lock()
	e.signalSubs = append(e.signalSubs, ch)
	e.mu.Unlock()
	return ch
}

// EmitTransition journals the record, then notifies subscribers. The
// journal error is returned to the caller — a failed journal write is a
// fault, not something to paper over with a broadcast.
func (e *Emitter) EmitTransition(rec model.TransitionRecord) error {
	if e.journal != nil {
		if err := e.journal.AppendTransition(rec); err != nil {
			return fmt.Errorf("events: journal append: %w", err)
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, ch := range e.transitionSubs {
		select {
		case ch <- rec:
		default:
			e.drop("transitions", i)
		}
	}
	return nil
}

// EmitSignal notifies signal subscribers. Signals are notifications only;
// the corresponding transition record is already journaled.
func (e *Emitter) EmitSignal(ev model.SignalEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, ch := range e.signalSubs {
		select {
		case ch <- ev:
		default:
			e.drop("signals", i)
		}
	}
}

// Close closes all subscriber channels.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.transitionSubs {
		close(ch)
	}
	for _, ch := range e.signalSubs {
		close(ch)
	}
	e.transitionSubs = nil
	e.signalSubs = nil
}

func (e *Emitter) drop(stream string, idx int) {
	if e.OnDrop != nil {
		e.OnDrop(stream, idx)
	} else {
		log.Printf("[events] %s subscriber %d full, dropping event", stream, idx)
	}
}
