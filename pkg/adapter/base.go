package adapter

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/event"
)

// healthFailureThreshold is how many consecutive acquisition failures turn
// a running adapter unhealthy.
const healthFailureThreshold = 3

// Base carries the bookkeeping every adapter kind shares: name, kind,
// running flag, health counters and a panic-isolating goroutine helper.
// Concrete adapters embed it.
type Base struct {
	name   string
	kind   event.Kind
	logger *slog.Logger

	mu           sync.RWMutex
	running      bool
	lastObserved time.Time
	failures     int
	authFailures int

	wg sync.WaitGroup
}

// NewBase creates the shared adapter state.
func NewBase(name string, kind event.Kind) *Base {
	return &Base{
		name:   name,
		kind:   kind,
		logger: slog.Default().With("adapter", name, "kind", string(kind)),
	}
}

// Name returns the adapter instance name.
func (b *Base) Name() string {
	return b.name
}

// Kind returns the event kind the adapter produces.
func (b *Base) Kind() event.Kind {
	return b.kind
}

// Logger returns the adapter-scoped logger.
func (b *Base) Logger() *slog.Logger {
	return b.logger
}

// SetLogger replaces the adapter's logger.
func (b *Base) SetLogger(l *slog.Logger) {
	if l != nil {
		b.logger = l.With("adapter", b.name, "kind", string(b.kind))
	}
}

// SetRunning flips the running flag; it returns ErrAlreadyRunning or
// ErrNotRunning when the transition is invalid.
func (b *Base) SetRunning(running bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if running && b.running {
		return ErrAlreadyRunning
	}
	if !running && !b.running {
		return ErrNotRunning
	}
	b.running = running
	return nil
}

// Running reports whether the adapter is started.
func (b *Base) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Observed records a successful observation and clears the failure count.
func (b *Base) Observed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastObserved = time.Now()
	b.failures = 0
}

// Failed records one acquisition failure and returns the consecutive count.
func (b *Base) Failed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	return b.failures
}

// AuthFailed records one authentication rejection and returns the count.
func (b *Base) AuthFailed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authFailures++
	return b.authFailures
}

// AuthOK clears the authentication failure count.
func (b *Base) AuthOK() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authFailures = 0
}

// LastObserved returns the time of the last successful observation.
func (b *Base) LastObserved() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastObserved
}

// Healthy reports whether the adapter is running and neither consecutive
// failures nor authentication rejections have crossed the degradation
// threshold.
func (b *Base) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running && b.failures < healthFailureThreshold && b.authFailures < healthFailureThreshold
}

// Go runs fn on a tracked goroutine. A panic escaping fn is converted into
// a Fault on the sink instead of crashing the process, so one adapter's bug
// never takes the manager down.
func (b *Base) Go(sink Sink, fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				sink.Fault(fmt.Errorf("adapter %s: panic in acquisition loop: %v", b.name, r))
			}
		}()
		fn()
	}()
}

// Wait blocks until every goroutine started with Go has returned, or the
// context expires. It returns false on timeout.
func (b *Base) Wait(done <-chan struct{}) bool {
	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-done:
		return false
	}
}
