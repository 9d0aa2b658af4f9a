package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"pumpwatch/internal/breaker"
	"pumpwatch/internal/model"
)

// pendingWrite is an event held back while the circuit is open. Exactly
// one of the two fields is set.
type pendingWrite struct {
	transition *model.TransitionRecord
	signal     *model.SignalEvent
}

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// circuit is open, events are buffered locally and replayed once the
// circuit closes. The buffer is capped; when full the oldest events are
// dropped (the journal already has them).
type BufferedPublisher struct {
	pub *Publisher
	cb  *breaker.Breaker
	ctx context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int

	// OnBuffer is called when an event is buffered (metrics hook).
	OnBuffer func()
	// OnFlush is called after replaying buffered events.
	OnFlush func(count int)
}

// NewBufferedPublisher wraps pub with cb. The breaker's OnStateChange is
// chained so that a close triggers a flush of the buffer.
func NewBufferedPublisher(ctx context.Context, pub *Publisher, cb *breaker.Breaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to breaker.State) {
		if prev != nil {
			prev(from, to)
		}
		if to == breaker.StateClosed {
			go bp.flush()
		}
	}

	return bp
}

// PublishTransition publishes through the breaker, buffering on open
// circuit. Never returns ErrCircuitOpen to the caller.
func (bp *BufferedPublisher) PublishTransition(rec model.TransitionRecord) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishTransition(bp.ctx, rec)
	})
	if errors.Is(err, breaker.ErrCircuitOpen) {
		bp.bufferWrite(pendingWrite{transition: &rec})
		return nil
	}
	return err
}

// PublishSignal publishes through the breaker, buffering on open circuit.
func (bp *BufferedPublisher) PublishSignal(ev model.SignalEvent) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishSignal(bp.ctx, ev)
	})
	if errors.Is(err, breaker.ErrCircuitOpen) {
		bp.bufferWrite(pendingWrite{signal: &ev})
		return nil
	}
	return err
}

// Pending returns the current buffer occupancy.
func (bp *BufferedPublisher) Pending() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

func (bp *BufferedPublisher) bufferWrite(pw pendingWrite) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, pw)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered events in arrival order.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]pendingWrite, 0, 256)
	bp.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		var err error
		switch {
		case pw.transition != nil:
			err = bp.pub.PublishTransition(bp.ctx, *pw.transition)
		case pw.signal != nil:
			err = bp.pub.PublishSignal(bp.ctx, *pw.signal)
		}
		if err != nil {
			log.Printf("[redis] flush replay error: %v", err)
			continue
		}
		flushed++
	}

	log.Printf("[redis] flushed %d buffered events", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}
