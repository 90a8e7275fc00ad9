package dispatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/binding"
	"github.com/abhishekvarshney/goingest/pkg/event"
)

// recordingHandler collects the events it receives under a lock.
type recordingHandler struct {
	mu     sync.Mutex
	events []event.Event
}

func (h *recordingHandler) handle(ev event.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestDispatchDeliversToMatchedHandlers(t *testing.T) {
	registry := binding.NewRegistry()
	d := NewDispatcher(registry)

	h := &recordingHandler{}
	if _, err := registry.Register(event.KindWebhook, "github/*", h.handle); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(event.New(event.KindWebhook, "hooks", "github/push"))
	if h.count() != 1 {
		t.Errorf("expected 1 delivery, got %d", h.count())
	}
}

func TestDispatchZeroMatchesIsSilent(t *testing.T) {
	registry := binding.NewRegistry()
	d := NewDispatcher(registry)

	// No bindings at all; must not panic or error.
	d.Dispatch(event.New(event.KindFile, "watcher", "config.json"))
}

func TestHandlerErrorIsIsolated(t *testing.T) {
	registry := binding.NewRegistry()
	d := NewDispatcher(registry)

	failing := func(event.Event) error { return errors.New("boom") }
	h := &recordingHandler{}

	if _, err := registry.Register(event.KindWebhook, "*", failing, binding.WithPriority(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Register(event.KindWebhook, "*", h.handle); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(event.New(event.KindWebhook, "hooks", "github/push"))
	if h.count() != 1 {
		t.Error("handler after a failing handler must still be invoked")
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	registry := binding.NewRegistry()
	d := NewDispatcher(registry)

	panicking := func(event.Event) error { panic("handler bug") }
	h := &recordingHandler{}

	if _, err := registry.Register(event.KindWebhook, "*", panicking, binding.WithPriority(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Register(event.KindWebhook, "*", h.handle); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(event.New(event.KindWebhook, "hooks", "github/push"))
	if h.count() != 1 {
		t.Error("handler after a panicking handler must still be invoked")
	}
}

func TestHandlerTimeoutIsAbandoned(t *testing.T) {
	registry := binding.NewRegistry()
	d := NewDispatcher(registry, WithHandlerTimeout(50*time.Millisecond))

	release := make(chan struct{})
	slow := func(event.Event) error {
		<-release
		return nil
	}
	h := &recordingHandler{}

	if _, err := registry.Register(event.KindMetric, "*", slow, binding.WithPriority(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Register(event.KindMetric, "*", h.handle); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	d.Dispatch(event.New(event.KindMetric, "alerts", "cpu"))
	elapsed := time.Since(start)
	close(release)

	if h.count() != 1 {
		t.Error("handler after a timed-out handler must still be invoked")
	}
	if elapsed > time.Second {
		t.Errorf("dispatch should abandon the slow handler quickly, took %v", elapsed)
	}
}

func TestDispatchOrderFollowsRegistry(t *testing.T) {
	registry := binding.NewRegistry()
	d := NewDispatcher(registry)

	var mu sync.Mutex
	var order []string
	mk := func(name string) binding.Handler {
		return func(event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	if _, err := registry.Register(event.KindStream, "*", mk("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Register(event.KindStream, "*", mk("b")); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(event.New(event.KindStream, "bus", "orders"))

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("expected registration order a,b; got %v", order)
	}
}
