package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollGateRefills(t *testing.T) {
	g := NewPollGate(5, 5, nil)
	for i := 0; i < 5; i++ {
		if !g.Allow() {
			t.Fatalf("expected allow %d while bucket full", i)
		}
	}
	if g.Allow() {
		t.Fatalf("expected deny after capacity drained")
	}
	time.Sleep(1100 * time.Millisecond)
	if !g.Allow() {
		t.Fatalf("expected allow after refill")
	}
}

func TestPollGateStartsFull(t *testing.T) {
	g := NewPollGate(1, 0.001, nil)
	if !g.Allow() {
		t.Fatalf("expected the very first poll to pass ungated")
	}
	if g.Allow() {
		t.Fatalf("expected second poll denied at a near-zero refill rate")
	}
}

func TestCircuitBreakerAdaptive(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(2*time.Second, 4, 4, 0.5, 500*time.Millisecond, 2)
	for i := 0; i < 4; i++ {
		if !cb.Allow() {
			t.Fatalf("should allow while closed")
		}
		cb.RecordResult(false)
	}
	if cb.Allow() {
		t.Fatalf("should be open and deny")
	}
	time.Sleep(600 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("half-open probe should allow")
	}
	cb.RecordResult(true)
	if !cb.Allow() {
		t.Fatalf("second probe should allow")
	}
	cb.RecordResult(true)
	if !cb.Allow() {
		t.Fatalf("breaker should be closed after successful probes")
	}
}

// shrinkBootstrapDelay makes the doubling schedule effectively instant for a
// test, restoring the real budget afterwards.
func shrinkBootstrapDelay(t *testing.T) {
	t.Helper()
	origDelay := bootstrapBaseDelay
	bootstrapBaseDelay = time.Millisecond
	t.Cleanup(func() { bootstrapBaseDelay = origDelay })
}

func TestBootstrapSucceedsAfterFailures(t *testing.T) {
	shrinkBootstrapDelay(t)
	dials := 0
	err := Bootstrap(context.Background(), "fake", func() error {
		dials++
		if dials < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if dials != 3 {
		t.Fatalf("expected exactly 3 dials, got %d", dials)
	}
}

func TestBootstrapExhaustsBudget(t *testing.T) {
	shrinkBootstrapDelay(t)
	dials := 0
	err := Bootstrap(context.Background(), "fake", func() error {
		dials++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatalf("expected the last dial error after exhausting the budget")
	}
	if dials != bootstrapAttempts {
		t.Fatalf("expected exactly %d dials, got %d", bootstrapAttempts, dials)
	}
}

func TestBootstrapRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Bootstrap(ctx, "fake", func() error {
		return errors.New("fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
