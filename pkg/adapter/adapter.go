// Package adapter defines the lifecycle contract shared by all seven source
// adapter kinds and the base plumbing they build on. An adapter owns one
// external integration, converts its foreign data into events, and reports
// health; the ingestion manager owns the adapter set and supervises it.
package adapter

import (
	"context"
	"errors"

	"github.com/abhishekvarshney/goingest/pkg/event"
)

// Common errors
var (
	// ErrAlreadyRunning is returned by Start when the adapter is running
	ErrAlreadyRunning = errors.New("adapter: already running")
	// ErrNotRunning is returned by Stop when the adapter never started
	ErrNotRunning = errors.New("adapter: not running")
)

// Sink is the adapter's callback surface into the ingestion manager.
type Sink interface {
	// Emit hands one event to the manager. Emit blocks while the source's
	// delivery queue is full; adapters therefore apply backpressure rather
	// than dropping observations.
	Emit(ev event.Event)

	// Fault reports an unrecoverable failure of the acquisition loop. The
	// manager stops the adapter and applies its restart policy.
	Fault(err error)
}

// Adapter is implemented by every source adapter kind.
type Adapter interface {
	// Name returns the caller-assigned instance name, stable across restarts
	Name() string

	// Kind returns the event kind this adapter produces
	Kind() event.Kind

	// Start begins acquisition. It returns once the acquisition loop is
	// scheduled, not once it completes. Starting a running adapter returns
	// ErrAlreadyRunning.
	Start(ctx context.Context, sink Sink) error

	// Stop requests graceful shutdown, flushing buffered observations.
	// It honors the context deadline; an adapter that cannot stop in time
	// is treated as stalled by the manager.
	Stop(ctx context.Context) error

	// Healthy is a cheap, non-blocking status check.
	Healthy() bool
}
