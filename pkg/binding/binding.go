// Package binding implements the indexed table of (event kind, pattern) to
// handler rules that decides which handlers should see an ingested event.
package binding

import (
	"errors"

	"github.com/abhishekvarshney/goingest/pkg/event"
)

// Common errors
var (
	// ErrInvalidKind is returned when a binding declares an unknown event kind
	ErrInvalidKind = errors.New("binding: invalid event kind")
	// ErrInvalidPattern is returned when a pattern does not parse under the
	// grammar of its declared kind
	ErrInvalidPattern = errors.New("binding: invalid pattern for kind")
	// ErrNilHandler is returned when a binding is registered without a handler
	ErrNilHandler = errors.New("binding: handler cannot be nil")
	// ErrNotFound is returned when unregistering an unknown binding ID
	ErrNotFound = errors.New("binding: not found")
)

// ID uniquely identifies a registered binding.
type ID string

// Handler is invoked with each event matched by a binding. The returned
// error is logged by the dispatcher and never propagated to the adapter
// that produced the event.
type Handler func(ev event.Event) error

// Binding maps an event kind and pattern to a handler.
type Binding struct {
	ID       ID
	Kind     event.Kind
	Pattern  string
	Priority int
	Handler  Handler
}

// Option configures a binding at registration time.
type Option func(*Binding)

// WithPriority sets an explicit ordering priority. Bindings with higher
// priority are invoked first; equal priorities keep registration order.
func WithPriority(p int) Option {
	return func(b *Binding) {
		b.Priority = p
	}
}
