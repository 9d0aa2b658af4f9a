package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pumpwatch/internal/model"
	"pumpwatch/internal/ringbuf"
)

// WSConfig holds configuration for the websocket tick ingest.
type WSConfig struct {
	// URL of the tick stream, e.g. "ws://feed.internal:9001/ws".
	URL string

	// Symbols to subscribe to. Sent as a subscription message on connect.
	Symbols []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *WSConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// WSIngest connects to a JSON tick websocket and pushes model.Tick values
// into the pipeline. The wire format matches model.Tick:
//
//	{"symbol":"PUMPUSDT","ts":"...","price":0.0421,"volume":1250}
//
// Serves both LIVE (exchange feed proxy) and PAPER (simulated feed) — the
// pipeline can't tell the difference, which is the point.
type WSIngest struct {
	cfg WSConfig

	// OnReconnect is called each time a reconnection happens.
	OnReconnect func()
}

// NewWSIngest creates an ingest. Returns an error if the URL is
// unparseable.
func NewWSIngest(cfg WSConfig) (*WSIngest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &WSIngest{cfg: cfg}, nil
}

// StartRing streams ticks into an SPSC ring until ctx is cancelled. This
// is the live hot path: the websocket reader is the single producer and
// the dispatcher the single consumer, so no mutex sits between them.
func (ing *WSIngest) StartRing(ctx context.Context, ring *ringbuf.Ring) error {
	return ing.start(ctx, func(t model.Tick) {
		if !ring.Push(t) {
			log.Println("[feed-ws] ring full, dropping tick")
		}
	})
}

// Start streams ticks into tickCh until ctx is cancelled. Reconnects
// automatically with exponential backoff.
func (ing *WSIngest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	return ing.start(ctx, func(t model.Tick) {
		select {
		case tickCh <- t:
		default:
			log.Println("[feed-ws] tickCh full, dropping tick")
		}
	})
}

func (ing *WSIngest) start(ctx context.Context, emit func(model.Tick)) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := ing.runOnce(ctx, emit)
		if err == nil {
			return nil // context cancelled cleanly
		}

		log.Printf("[feed-ws] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancellation.
func (ing *WSIngest) runOnce(ctx context.Context, emit func(model.Tick)) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed-ws] connected to %s", ing.cfg.URL)

	if len(ing.cfg.Symbols) > 0 {
		sub := map[string]interface{}{
			"op":      "subscribe",
			"symbols": ing.cfg.Symbols,
		}
		if err := conn.WriteJSON(sub); err != nil {
			return err
		}
		log.Printf("[feed-ws] subscribed to %s", strings.Join(ing.cfg.Symbols, ","))
	}

	// Context watcher — closes the connection when ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			log.Printf("[feed-ws] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if tick.Symbol == "" {
			continue // heartbeats and ack frames have no symbol
		}

		emit(tick)
	}
}
