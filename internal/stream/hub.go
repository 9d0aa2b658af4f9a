// Package stream broadcasts journaled transition records and signal
// events to WebSocket clients (dashboards, alert UIs). Every envelope
// carries a monotonic sequence number; clients that miss messages request
// a backfill from the replay buffer on reconnect.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pumpwatch/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Envelope is the wire frame sent to clients.
type Envelope struct {
	Seq    int64           `json:"seq"`
	Stream string          `json:"stream"` // "transitions" or "signals"
	Data   json.RawMessage `json:"data"`
	TS     string          `json:"ts"`
	Replay bool            `json:"replay,omitempty"`
}

// Hub manages WebSocket clients and fans journal events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *ReplayBuffer

	// OnClientCount, if set, receives the client count after changes.
	OnClientCount func(n int)
}

// NewHub creates a hub with a replay buffer of the given capacity.
func NewHub(replayCap int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replayCap),
	}
}

// Run consumes both event streams until the channels close or ctx ends.
// Wire it to events.Emitter subscriptions.
func (h *Hub) Run(ctx context.Context, transitions <-chan model.TransitionRecord, signals <-chan model.SignalEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-transitions:
			if !ok {
				transitions = nil
				if signals == nil {
					return
				}
				continue
			}
			h.broadcast("transitions", rec.JSON(), rec.TS)
		case ev, ok := <-signals:
			if !ok {
				signals = nil
				if transitions == nil {
					return
				}
				continue
			}
			h.broadcast("signals", ev.JSON(), ev.TS)
		}
	}
}

func (h *Hub) broadcast(stream string, data []byte, ts time.Time) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	env, err := json.Marshal(Envelope{
		Seq:    seq,
		Stream: stream,
		Data:   data,
		TS:     ts.Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Printf("[stream] envelope marshal failed: %v", err)
		return
	}

	h.replay.Push(seq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			// Slow client: skip; it can backfill via from_seq later.
		}
	}
}

// ServeHTTP upgrades the connection and registers the client. The
// optional ?from_seq=N query backfills everything the client missed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] ws upgrade error: %v", err)
		return
	}

	c := &Client{conn: conn, send: make(chan []byte, 256), hub: h}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.countChanged(n)

	if q := r.URL.Query().Get("from_seq"); q != "" {
		if from, err := strconv.ParseInt(q, 10, 64); err == nil {
			c.backfill(from)
		}
	}

	go c.writePump()
	go c.readPump()
	log.Println("[stream] ws client connected")
}

// removeClient unregisters a client and closes its send channel.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.countChanged(n)
}

// Clients returns the current client count.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

func (h *Hub) countChanged(n int) {
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}
