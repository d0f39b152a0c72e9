package services

import (
	"errors"
	"testing"
	"time"

	"logitrack/internal/config"
)

func TestCircuitBreaker_Transitions(t *testing.T) {
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMaxReqs: 1})
	now := fixedNow
	cb.now = func() time.Time { return now }

	if cb.State() != BreakerClosed {
		t.Fatalf("new breaker should be closed")
	}
	_ = cb.Do(func() error { return errGatewayDown })
	if cb.State() != BreakerOpen {
		t.Fatalf("breaker should open after reaching max failures")
	}
	if err := cb.Do(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	// after the reset timeout one probe is let through
	now = now.Add(2 * time.Minute)
	if err := cb.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("expected closed after successful probe")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Second})
	now := fixedNow
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_ = cb.Do(func() error { return errGatewayDown })
	}
	now = now.Add(2 * time.Second)
	_ = cb.Do(func() error { return errGatewayDown })
	if cb.State() != BreakerOpen {
		t.Fatalf("failed probe should reopen, got %s", cb.State())
	}

	cb.Reset()
	if cb.State() != BreakerClosed {
		t.Fatalf("reset should close the breaker")
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := []struct {
		state    BreakerState
		expected string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("String() = %s, want %s", got, tt.expected)
		}
	}
}
