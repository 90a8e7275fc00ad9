// Package backoff provides the retry/backoff policy used by the ingestion
// manager's adapter restart logic and by streaming reconnect loops.
package backoff

import (
	"fmt"
	"time"
)

// Mode selects how the delay grows between attempts.
type Mode string

const (
	// ModeFixed waits the initial delay on every retry
	ModeFixed Mode = "fixed"
	// ModeLinear grows the delay linearly with the attempt number
	ModeLinear Mode = "linear"
	// ModeExponential doubles the delay on each retry
	ModeExponential Mode = "exponential"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       Mode          `json:"mode" yaml:"mode"`
	Initial    time.Duration `json:"initial" yaml:"initial"`
	Max        time.Duration `json:"max" yaml:"max"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
}

// DefaultPolicy returns the default policy (exponential, 1s initial, 30s
// cap, 5 retries).
func DefaultPolicy() Policy {
	return Policy{Mode: ModeExponential, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 5}
}

// NewPolicy builds a policy from raw config fields; zero or invalid values
// fall back to the defaults.
func NewPolicy(mode Mode, initial, max time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if max > 0 {
		p.Max = max
	}
	switch mode {
	case ModeFixed, ModeLinear, ModeExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay for the given attempt number
// (1-based: first retry => 1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	switch p.Mode {
	case ModeFixed:
		return p.Initial
	case ModeLinear:
		d := time.Duration(attempt) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	default: // exponential
		if attempt > 30 {
			return p.Max
		}
		d := p.Initial * (1 << (attempt - 1))
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	}
}

// Exhausted reports whether the given number of retries has used up the
// policy's budget.
func (p Policy) Exhausted(attempt int) bool {
	return attempt > p.MaxRetries
}

// Validate ensures invariants hold.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}
