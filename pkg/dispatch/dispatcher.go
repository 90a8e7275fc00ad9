// Package dispatch matches incoming events against the binding registry and
// invokes the matched handlers, isolating every handler failure from the
// adapter that produced the event and from the other matched handlers.
package dispatch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/binding"
	"github.com/abhishekvarshney/goingest/pkg/event"
	"github.com/abhishekvarshney/goingest/pkg/metrics"
)

// DefaultHandlerTimeout bounds how long a single handler may hold up
// delivery before it is abandoned.
const DefaultHandlerTimeout = 30 * time.Second

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHandlerTimeout overrides the per-handler timeout.
func WithHandlerTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.handlerTimeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(dp *Dispatcher) {
		if l != nil {
			dp.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(dp *Dispatcher) {
		if r != nil {
			dp.recorder = r
		}
	}
}

// Dispatcher delivers events to handlers selected by the registry. It
// borrows each event for the duration of the matching/invocation call and
// never stores it.
type Dispatcher struct {
	registry       *binding.Registry
	handlerTimeout time.Duration
	logger         *slog.Logger
	recorder       metrics.Recorder
}

// NewDispatcher creates a dispatcher reading from the given registry.
func NewDispatcher(registry *binding.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		handlerTimeout: DefaultHandlerTimeout,
		logger:         slog.Default().With("component", "dispatcher"),
		recorder:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch matches ev against the registry and invokes the matched handlers
// in order. Handler invocation is synchronous relative to this call, but a
// handler that exceeds the configured timeout is abandoned: its goroutine
// keeps running, its eventual result is discarded, and dispatch moves on.
// An event matching zero bindings is dropped silently.
func (d *Dispatcher) Dispatch(ev event.Event) {
	matched := d.registry.Match(ev)
	if len(matched) == 0 {
		d.recorder.EventDropped(ev.Kind.String())
		return
	}

	for _, b := range matched {
		d.invoke(b, ev)
	}
	d.recorder.EventDispatched(ev.Kind.String(), len(matched))
}

// invoke runs one handler with panic isolation and a timeout.
func (d *Dispatcher) invoke(b *binding.Binding, ev event.Event) {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- b.Handler(ev)
	}()

	timer := time.NewTimer(d.handlerTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			d.recorder.HandlerFailure(ev.Kind.String(), "error")
			d.logger.Error("handler failed",
				"binding", string(b.ID),
				"pattern", b.Pattern,
				"event", ev.ID,
				"error", err)
		}
	case <-timer.C:
		d.recorder.HandlerFailure(ev.Kind.String(), "timeout")
		d.logger.Error("handler timed out, abandoning",
			"binding", string(b.ID),
			"pattern", b.Pattern,
			"event", ev.ID,
			"timeout", d.handlerTimeout)
	}
}
