package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(Config{MaxFailures: 3, ResetTimeout: 100 * time.Millisecond})
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", b.CurrentState())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b := New(Config{MaxFailures: 3, ResetTimeout: 100 * time.Millisecond})
	errFail := errors.New("fail")

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return errFail })
		if err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}

	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after 3 failures, got %v", b.CurrentState())
	}

	// Calls should be rejected immediately, no timeout wait.
	start := time.Now()
	err := b.Execute(func() error { return nil })
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("open-circuit rejection took %v, expected immediate", elapsed)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := New(Config{MaxFailures: 2, ResetTimeout: 50 * time.Millisecond})
	errFail := errors.New("fail")

	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}
	if b.CurrentState() != StateOpen {
		t.Fatal("expected Open")
	}

	time.Sleep(60 * time.Millisecond)

	// Probe succeeds and closes the circuit.
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed after successful probe, got %v", b.CurrentState())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(Config{MaxFailures: 2, ResetTimeout: 50 * time.Millisecond})
	errFail := errors.New("fail")

	for i := 0; i < 2; i++ {
		b.Execute(func() error { return errFail })
	}

	time.Sleep(60 * time.Millisecond)
	b.Execute(func() error { return errFail })

	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after failed probe, got %v", b.CurrentState())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(Config{MaxFailures: 3, ResetTimeout: 100 * time.Millisecond})
	errFail := errors.New("fail")

	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })
	b.Execute(func() error { return nil }) // resets counter

	b.Execute(func() error { return errFail })
	b.Execute(func() error { return errFail })

	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed (counter should have reset), got %v", b.CurrentState())
	}
}

func TestBreaker_CallTimeoutCountsAsFailure(t *testing.T) {
	b := New(Config{MaxFailures: 2, ResetTimeout: time.Second, CallTimeout: 20 * time.Millisecond})

	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for i := 0; i < 2; i++ {
		err := b.Call(context.Background(), slow)
		if err != ErrCallTimeout {
			t.Fatalf("call %d: expected ErrCallTimeout, got %v", i, err)
		}
	}

	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after 2 timeouts, got %v", b.CurrentState())
	}
}

func TestBreaker_CallCancellationIsNotFailure(t *testing.T) {
	b := New(Config{MaxFailures: 1, ResetTimeout: time.Second, CallTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := b.Call(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("cancellation must not trip the breaker, got %v", b.CurrentState())
	}
}

func TestBreaker_OnStateChangeCallback(t *testing.T) {
	var transitions []State
	b := New(Config{MaxFailures: 1, ResetTimeout: 50 * time.Millisecond})
	b.OnStateChange = func(from, to State) {
		transitions = append(transitions, to)
	}

	b.Execute(func() error { return errors.New("fail") })

	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("expected [Open], got %v", transitions)
	}

	time.Sleep(60 * time.Millisecond)
	b.Execute(func() error { return nil })

	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d: %v", len(transitions), transitions)
	}
	if transitions[1] != StateHalfOpen || transitions[2] != StateClosed {
		t.Errorf("expected [Open, HalfOpen, Closed], got %v", transitions)
	}
}

func TestGroup_IsolatesTargets(t *testing.T) {
	g := NewGroup(Config{MaxFailures: 1, ResetTimeout: time.Second})
	errFail := errors.New("fail")

	g.Target("slow_indicator").Execute(func() error { return errFail })

	if g.Target("slow_indicator").CurrentState() != StateOpen {
		t.Error("expected slow_indicator breaker Open")
	}
	if g.Target("healthy_indicator").CurrentState() != StateClosed {
		t.Error("a failing target must not open other targets' breakers")
	}
}
