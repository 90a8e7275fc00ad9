// Package database implements the database poller adapter. On every tick
// it executes one configured query against a relational or document
// backend, compares each returned row against change state by its key
// field, and emits one event per new or changed row.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
	"github.com/abhishekvarshney/goingest/pkg/changedetect"
	"github.com/abhishekvarshney/goingest/pkg/event"
	"github.com/abhishekvarshney/goingest/pkg/set"
)

// Backend abstracts the database kind behind one query surface.
type Backend interface {
	// Connect establishes the connection; called once on adapter start
	Connect(ctx context.Context) error

	// Query executes the configured query, one row per map
	Query(ctx context.Context) ([]map[string]interface{}, error)

	// Close releases the connection
	Close() error
}

// Config holds the database poller configuration.
type Config struct {
	// Interval between polls
	Interval time.Duration `json:"interval" yaml:"interval"`

	// KeyField identifies a row across polls, e.g. "id"
	KeyField string `json:"key_field" yaml:"key_field"`

	// Subject overrides the per-row event subject; defaults to the row key
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return adapter.ErrInvalidConfig{Field: "interval", Reason: "interval must be positive"}
	}
	if c.KeyField == "" {
		return adapter.ErrInvalidConfig{Field: "key_field", Reason: "key field required"}
	}
	return nil
}

// Adapter is the database poller.
type Adapter struct {
	*adapter.Base
	config   Config
	backend  Backend
	detector *changedetect.Detector
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a database adapter polling the given backend.
func New(name string, config Config, backend Backend) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, adapter.ErrInvalidConfig{Field: "backend", Reason: "backend required"}
	}
	return &Adapter{
		Base:     adapter.NewBase(name, event.KindDatabase),
		config:   config,
		backend:  backend,
		detector: changedetect.NewDetector(),
	}, nil
}

// Start connects the backend and schedules the poll loop.
func (a *Adapter) Start(ctx context.Context, sink adapter.Sink) error {
	if err := a.SetRunning(true); err != nil {
		return err
	}

	if err := a.backend.Connect(ctx); err != nil {
		_ = a.SetRunning(false)
		return fmt.Errorf("database %s: connect: %w", a.Name(), err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	a.Go(sink, func() {
		defer close(a.done)
		a.loop(loopCtx, sink)
	})

	a.Logger().Info("database poller started", "interval", a.config.Interval, "key_field", a.config.KeyField)
	return nil
}

// Stop cancels the poll loop and closes the backend connection.
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

// loop polls on the configured interval. A connection failure is retried
// on the next tick; it never aborts the loop.
func (a *Adapter) loop(ctx context.Context, sink adapter.Sink) {
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.poll(ctx, sink)
		}
	}
}

func (a *Adapter) poll(ctx context.Context, sink adapter.Sink) {
	rows, err := a.backend.Query(ctx)
	if err != nil {
		count := a.Failed()
		a.Logger().Warn("query failed", "error", err, "consecutive", count)
		return
	}
	a.Observed()

	current := set.New()
	for _, row := range rows {
		keyValue, ok := row[a.config.KeyField]
		if !ok {
			a.Logger().Warn("row missing key field, skipping", "key_field", a.config.KeyField)
			continue
		}
		key := fmt.Sprintf("%v", keyValue)
		current.Add(key)
		if !a.detector.Observe(key, changedetect.Digest(row)) {
			continue
		}

		subject := a.config.Subject
		if subject == "" {
			subject = key
		}
		ev := event.New(event.KindDatabase, a.Name(), subject)
		ev.Payload = row
		ev.Metadata = map[string]interface{}{
			"key":       key,
			"key_field": a.config.KeyField,
		}
		sink.Emit(ev)
	}

	// Drop state for rows the query no longer returns, so a row that
	// vanishes and later reappears is reported again.
	for _, key := range a.detector.Keys().Items() {
		if !current.Contains(key) {
			a.detector.Forget(key)
		}
	}
}
