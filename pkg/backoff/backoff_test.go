package backoff

import (
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Mode != ModeExponential {
		t.Errorf("expected exponential default mode, got %s", p.Mode)
	}
	if p.Initial != time.Second {
		t.Errorf("expected initial 1s, got %v", p.Initial)
	}
	if p.Max != 30*time.Second {
		t.Errorf("expected max 30s, got %v", p.Max)
	}
	if p.MaxRetries != 5 {
		t.Errorf("expected max retries 5, got %d", p.MaxRetries)
	}
}

func TestNewPolicyOverrides(t *testing.T) {
	p := NewPolicy(ModeFixed, 5*time.Second, 2*time.Second, 7)
	// initial > max gets clamped
	if p.Initial != 2*time.Second {
		t.Errorf("expected clamped initial 2s, got %v", p.Initial)
	}
	if p.Mode != ModeFixed {
		t.Errorf("expected fixed mode, got %s", p.Mode)
	}
	if p.MaxRetries != 7 {
		t.Errorf("expected max retries 7, got %d", p.MaxRetries)
	}

	p = NewPolicy("bogus", 0, 0, -1)
	def := DefaultPolicy()
	if p != def {
		t.Errorf("invalid values should fall back to defaults, got %+v", p)
	}
}

func TestDelayModes(t *testing.T) {
	fixed := NewPolicy(ModeFixed, 100*time.Millisecond, time.Second, 3)
	for i := 1; i <= 3; i++ {
		if d := fixed.Delay(i); d != 100*time.Millisecond {
			t.Errorf("fixed attempt %d: expected 100ms, got %v", i, d)
		}
	}

	linear := NewPolicy(ModeLinear, 100*time.Millisecond, 250*time.Millisecond, 5)
	if d := linear.Delay(2); d != 200*time.Millisecond {
		t.Errorf("linear attempt 2: expected 200ms, got %v", d)
	}
	if d := linear.Delay(5); d != 250*time.Millisecond {
		t.Errorf("linear attempt 5: expected capped 250ms, got %v", d)
	}

	exp := NewPolicy(ModeExponential, 100*time.Millisecond, time.Second, 10)
	if d := exp.Delay(1); d != 100*time.Millisecond {
		t.Errorf("exp attempt 1: expected 100ms, got %v", d)
	}
	if d := exp.Delay(3); d != 400*time.Millisecond {
		t.Errorf("exp attempt 3: expected 400ms, got %v", d)
	}
	if d := exp.Delay(8); d != time.Second {
		t.Errorf("exp attempt 8: expected capped 1s, got %v", d)
	}
	if d := exp.Delay(64); d != time.Second {
		t.Errorf("exp huge attempt: expected capped 1s, got %v", d)
	}
}

func TestDelayZeroAttempt(t *testing.T) {
	if d := DefaultPolicy().Delay(0); d != 0 {
		t.Errorf("attempt 0 should yield no delay, got %v", d)
	}
}

func TestExhausted(t *testing.T) {
	p := NewPolicy(ModeFixed, time.Second, time.Second, 2)
	if p.Exhausted(2) {
		t.Error("attempt 2 of 2 retries should not be exhausted")
	}
	if !p.Exhausted(3) {
		t.Error("attempt 3 of 2 retries should be exhausted")
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("default policy should validate, got %v", err)
	}
	bad := Policy{Mode: ModeFixed, Initial: 0, Max: time.Second, MaxRetries: 1}
	if err := bad.Validate(); err == nil {
		t.Error("zero initial should fail validation")
	}
}
