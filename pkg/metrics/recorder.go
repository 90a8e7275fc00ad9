// Package metrics provides ingest observability counters behind a small
// Recorder interface. Components default to NoopRecorder so metrics stay
// zero-cost until a real recorder is injected.
package metrics

// Recorder receives counters from the manager, dispatcher and adapters.
type Recorder interface {
	// EventEmitted is called when an adapter emits one event
	EventEmitted(source string, kind string)
	// EventDispatched is called after dispatch with the matched handler count
	EventDispatched(kind string, matched int)
	// EventDropped is called when an event matched zero bindings
	EventDropped(kind string)
	// HandlerFailure is called when a handler errors, panics or times out
	HandlerFailure(kind string, reason string)
	// AdapterRestart is called each time the manager restarts an adapter
	AdapterRestart(source string)
}

// NoopRecorder is the default Recorder; every method does nothing.
type NoopRecorder struct{}

func (NoopRecorder) EventEmitted(string, string)   {}
func (NoopRecorder) EventDispatched(string, int)   {}
func (NoopRecorder) EventDropped(string)           {}
func (NoopRecorder) HandlerFailure(string, string) {}
func (NoopRecorder) AdapterRestart(string)         {}
