package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pumpwatch/internal/model"
)

func TestHub_RunAssignsSequentialSeqs(t *testing.T) {
	h := NewHub(100)

	transitions := make(chan model.TransitionRecord, 10)
	signals := make(chan model.SignalEvent, 10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(context.Background(), transitions, signals)
	}()

	ts := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		transitions <- model.TransitionRecord{
			SessionID: "s1",
			Symbol:    "PUMPUSDT",
			From:      model.StateMonitoring,
			To:        model.StateSignalDetected,
			Trigger:   model.TriggerS1,
			TS:        ts,
		}
	}
	signals <- model.SignalEvent{SessionID: "s1", Symbol: "PUMPUSDT", Type: model.TriggerS1, TS: ts}
	close(transitions)
	close(signals)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop after channels closed")
	}

	if h.Seq() != 4 {
		t.Fatalf("expected seq=4 after 4 events, got %d", h.Seq())
	}

	entries := h.replay.Range(1, 4)
	if len(entries) != 4 {
		t.Fatalf("expected 4 replayable envelopes, got %d", len(entries))
	}
	var env Envelope
	if err := json.Unmarshal(entries[3].Data, &env); err != nil {
		t.Fatalf("envelope decode: %v", err)
	}
	if env.Stream != "signals" {
		t.Errorf("last envelope stream = %q, want signals", env.Stream)
	}
	if env.Seq != 4 {
		t.Errorf("last envelope seq = %d, want 4", env.Seq)
	}
}
