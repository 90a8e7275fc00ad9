// Package metricspoll implements the metrics poller adapter. On every tick
// it evaluates one scalar query against a metrics backend, compares the
// value to a threshold, and emits an event only on the transition into the
// alerting state. A value that stays over the threshold does not re-fire.
package metricspoll

import (
	"context"
	"fmt"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
	"github.com/abhishekvarshney/goingest/pkg/event"
)

// Backend evaluates the configured query to a single scalar.
type Backend interface {
	// Connect establishes the connection; called once on adapter start
	Connect(ctx context.Context) error

	// Query evaluates the metric and returns its current value
	Query(ctx context.Context) (float64, error)

	// Close releases the connection
	Close() error
}

// Operator compares the sampled value against the threshold.
type Operator string

const (
	OpGreater      Operator = "gt"
	OpGreaterEqual Operator = "ge"
	OpLess         Operator = "lt"
	OpLessEqual    Operator = "le"
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
)

func (o Operator) compare(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLess:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	}
	return false
}

func (o Operator) valid() bool {
	switch o {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// Config holds the metrics poller configuration.
type Config struct {
	// Interval between samples
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Threshold the sampled value is compared against
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// Operator defaults to OpGreater
	Operator Operator `json:"operator,omitempty" yaml:"operator,omitempty"`

	// Subject names the emitted alert, e.g. "cpu/high"
	Subject string `json:"subject" yaml:"subject"`
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return adapter.ErrInvalidConfig{Field: "interval", Reason: "interval must be positive"}
	}
	if c.Subject == "" {
		return adapter.ErrInvalidConfig{Field: "subject", Reason: "alert subject required"}
	}
	if c.Operator == "" {
		c.Operator = OpGreater
	}
	if !c.Operator.valid() {
		return adapter.ErrInvalidConfig{Field: "operator", Reason: fmt.Sprintf("unknown operator %q", c.Operator)}
	}
	return nil
}

// Adapter is the metrics poller.
type Adapter struct {
	*adapter.Base
	config  Config
	backend Backend
	cancel  context.CancelFunc
	done    chan struct{}

	// alerting is owned by the poll goroutine
	alerting bool
}

// New creates a metrics adapter sampling the given backend.
func New(name string, config Config, backend Backend) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, adapter.ErrInvalidConfig{Field: "backend", Reason: "backend required"}
	}
	return &Adapter{
		Base:    adapter.NewBase(name, event.KindMetric),
		config:  config,
		backend: backend,
	}, nil
}

// Start connects the backend and schedules the sampling loop.
func (a *Adapter) Start(ctx context.Context, sink adapter.Sink) error {
	if err := a.SetRunning(true); err != nil {
		return err
	}

	if err := a.backend.Connect(ctx); err != nil {
		_ = a.SetRunning(false)
		return fmt.Errorf("metrics %s: connect: %w", a.Name(), err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	a.Go(sink, func() {
		defer close(a.done)
		a.loop(loopCtx, sink)
	})

	a.Logger().Info("metrics poller started",
		"interval", a.config.Interval,
		"operator", a.config.Operator,
		"threshold", a.config.Threshold)
	return nil
}

// Stop cancels the sampling loop and closes the backend connection.
func (a *Adapter) Stop(ctx context.Context) error {
	if err := a.SetRunning(false); err != nil {
		return err
	}
	a.cancel()

	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return a.backend.Close()
}

func (a *Adapter) loop(ctx context.Context, sink adapter.Sink) {
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sample(ctx, sink)
		}
	}
}

func (a *Adapter) sample(ctx context.Context, sink adapter.Sink) {
	value, err := a.backend.Query(ctx)
	if err != nil {
		count := a.Failed()
		a.Logger().Warn("query failed", "error", err, "consecutive", count)
		return
	}
	a.Observed()

	over := a.config.Operator.compare(value, a.config.Threshold)
	if over == a.alerting {
		return
	}
	a.alerting = over
	if !over {
		a.Logger().Info("condition cleared", "value", value)
		return
	}

	ev := event.New(event.KindMetric, a.Name(), a.config.Subject)
	ev.Payload = map[string]interface{}{
		"value":     value,
		"threshold": a.config.Threshold,
		"operator":  string(a.config.Operator),
	}
	ev.Metadata = map[string]interface{}{
		"value":     value,
		"threshold": a.config.Threshold,
		"operator":  string(a.config.Operator),
	}
	sink.Emit(ev)
}
