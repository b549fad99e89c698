package llm

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state closed, got %s", cb.State())
	}

	allowed, err := cb.Allow()
	if !allowed || err != nil {
		t.Errorf("expected closed circuit to allow calls, got allowed=%v err=%v", allowed, err)
	}
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 3, ResetAfter: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatalf("expected circuit to stay closed below threshold, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to open at threshold, got %s", cb.State())
	}

	allowed, err := cb.Allow()
	if allowed {
		t.Error("expected open circuit to reject calls")
	}
	if err == nil || !strings.Contains(err.Error(), "circuit breaker open") {
		t.Errorf("expected open-circuit error, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 3, ResetAfter: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	// The count restarted, so two more failures must not trip it
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Errorf("expected circuit to stay closed after reset, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, ResetAfter: 20 * time.Millisecond})

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open circuit, got %s", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	allowed, err := cb.Allow()
	if !allowed || err != nil {
		t.Fatalf("expected probe call after cooldown, got allowed=%v err=%v", allowed, err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open state after probe admitted, got %s", cb.State())
	}

	// Only one probe may be in flight
	allowed, err = cb.Allow()
	if allowed {
		t.Error("expected second call during half-open to be rejected")
	}
	if err == nil || !strings.Contains(err.Error(), "half-open") {
		t.Errorf("expected half-open error, got %v", err)
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, ResetAfter: 20 * time.Millisecond})

	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)

	if allowed, _ := cb.Allow(); !allowed {
		t.Fatal("expected probe to be admitted")
	}
	cb.RecordSuccess()

	if cb.State() != CircuitClosed {
		t.Errorf("expected circuit closed after successful probe, got %s", cb.State())
	}
	if allowed, err := cb.Allow(); !allowed || err != nil {
		t.Errorf("expected calls to flow after recovery, got allowed=%v err=%v", allowed, err)
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 5, ResetAfter: 20 * time.Millisecond})

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	time.Sleep(30 * time.Millisecond)

	if allowed, _ := cb.Allow(); !allowed {
		t.Fatal("expected probe to be admitted")
	}
	cb.RecordFailure()

	if cb.State() != CircuitOpen {
		t.Errorf("expected circuit to reopen after failed probe, got %s", cb.State())
	}
	if allowed, _ := cb.Allow(); allowed {
		t.Error("expected reopened circuit to reject calls before cooldown")
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 10, ResetAfter: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			_, _ = cb.Allow()
			_ = cb.State()
		}(i)
	}
	wg.Wait()

	// State must be one of the defined positions after the race
	switch cb.State() {
	case CircuitClosed, CircuitOpen, CircuitHalfOpen:
	default:
		t.Errorf("unexpected state %s", cb.State())
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}
