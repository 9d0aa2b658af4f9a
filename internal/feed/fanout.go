package feed

import (
	"log"
	"sync"

	"pumpwatch/internal/model"
)

// FanOut broadcasts ticks to per-symbol subscriber channels. If a
// subscriber's channel is full the tick is dropped for that subscriber —
// a slow session must never block the feed pipeline or its sibling
// sessions.
type FanOut struct {
	mu      sync.RWMutex
	subs    map[string][]chan model.Tick
	bufSize int

	// OnDrop is called when a tick is dropped for a slow subscriber.
	OnDrop func(symbol string)
}

// NewFanOut creates a FanOut with the given per-subscriber buffer size.
func NewFanOut(bufSize int) *FanOut {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &FanOut{
		subs:    make(map[string][]chan model.Tick, 16),
		bufSize: bufSize,
	}
}

// Subscribe creates a new subscriber channel for one symbol.
func (f *FanOut) Subscribe(symbol string) <-chan model.Tick {
	ch := make(chan model.Tick, f.bufSize)
	f.mu.Lock()
	f.subs[symbol] = append(f.subs[symbol], ch)
	f.mu.Unlock()
	return ch
}

// Publish delivers a tick to the symbol's subscribers without blocking.
func (f *FanOut) Publish(t model.Tick) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs[t.Symbol] {
		select {
		case ch <- t:
		default:
			if f.OnDrop != nil {
				f.OnDrop(t.Symbol)
			} else {
				log.Printf("[feed] subscriber for %s full, dropping tick", t.Symbol)
			}
		}
	}
}

// Close closes every subscriber channel.
func (f *FanOut) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, chans := range f.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	f.subs = make(map[string][]chan model.Tick)
}
