package clients

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	if cb.State() != StateClosed {
		t.Fatalf("expected circuit breaker to start in CLOSED state, got %s", cb.State())
	}
}

func TestCircuitBreaker_DoesNotTripBelowFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second})

	for i := 0; i < 2; i++ {
		_ = cb.Call(func() error { return errors.New("boom") })
	}

	if cb.State() != StateClosed {
		t.Fatalf("expected CLOSED below threshold, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		_ = cb.Call(func() error { return errors.New("boom") })
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected OPEN at threshold, got %s", cb.State())
	}

	err := cb.Call(func() error { return nil })
	if err == nil {
		t.Fatalf("expected open-circuit error")
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond})

	_ = cb.Call(func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("expected OPEN after one failure")
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open call to succeed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected CLOSED after success threshold met, got %s", cb.State())
	}
}

func TestCircuitBreaker_OnStateChangeFires(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "bc-api",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(name string, from, to CircuitBreakerState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Call(func() error { return errors.New("boom") })

	if len(transitions) != 1 || transitions[0] != "bc-api:closed->open" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}
