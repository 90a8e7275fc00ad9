package binding

import (
	"errors"
	"sync"
	"testing"

	"github.com/abhishekvarshney/goingest/pkg/event"
)

func noopHandler(event.Event) error { return nil }

func webhookEvent(subject string) event.Event {
	return event.New(event.KindWebhook, "hooks", subject)
}

func fileEvent(subject string) event.Event {
	return event.New(event.KindFile, "watcher", subject)
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Register("bogus", "*", noopHandler); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind, got %v", err)
	}
	if _, err := r.Register(event.KindWebhook, "github/push", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
	if _, err := r.Register(event.KindWebhook, "", noopHandler); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("empty pattern: expected ErrInvalidPattern, got %v", err)
	}
	if _, err := r.Register(event.KindWebhook, "github//push", noopHandler); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("empty topic segment: expected ErrInvalidPattern, got %v", err)
	}
	// Malformed glob: unterminated character class.
	if _, err := r.Register(event.KindFile, "[a-", noopHandler); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("bad glob: expected ErrInvalidPattern, got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("rejected registrations must not be stored, got %d bindings", r.Len())
	}

	if _, err := r.Register(event.KindWebhook, "github/*", noopHandler); err != nil {
		t.Fatalf("valid registration failed: %v", err)
	}
}

func TestMatchWildcardAll(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(event.KindWebhook, "*", noopHandler); err != nil {
		t.Fatal(err)
	}

	for _, subject := range []string{"github/push", "gitlab/pipeline", "pagerduty/incident/triggered"} {
		if got := r.Match(webhookEvent(subject)); len(got) != 1 {
			t.Errorf("pattern * should match %q, got %d matches", subject, len(got))
		}
	}

	// Kind filtering comes before pattern matching.
	if got := r.Match(fileEvent("anything")); len(got) != 0 {
		t.Errorf("wildcard binding for webhook must not match file events, got %d", len(got))
	}
}

func TestMatchHierarchical(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(event.KindWebhook, "github/*", noopHandler); err != nil {
		t.Fatal(err)
	}

	for _, subject := range []string{"github/push", "github/pull_request"} {
		if got := r.Match(webhookEvent(subject)); len(got) != 1 {
			t.Errorf("github/* should match %q", subject)
		}
	}
	if got := r.Match(webhookEvent("gitlab/push")); len(got) != 0 {
		t.Error("github/* must not match gitlab/push")
	}
}

func TestMatchExact(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(event.KindStream, "orders", noopHandler); err != nil {
		t.Fatal(err)
	}

	if got := r.Match(event.New(event.KindStream, "bus", "orders")); len(got) != 1 {
		t.Error("exact pattern should match identical subject")
	}
	if got := r.Match(event.New(event.KindStream, "bus", "orders/created")); len(got) != 0 {
		t.Error("exact pattern must not match a longer topic")
	}
}

func TestMatchGlob(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(event.KindFile, "*.yaml", noopHandler); err != nil {
		t.Fatal(err)
	}

	if got := r.Match(fileEvent("config.yaml")); len(got) != 1 {
		t.Error("*.yaml should match config.yaml")
	}
	if got := r.Match(fileEvent("config.json")); len(got) != 0 {
		t.Error("*.yaml must not match config.json")
	}
}

func TestMatchOrdering(t *testing.T) {
	r := NewRegistry()
	var order []string
	mk := func(name string) Handler {
		return func(event.Event) error {
			order = append(order, name)
			return nil
		}
	}

	if _, err := r.Register(event.KindWebhook, "*", mk("first")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(event.KindWebhook, "github/*", mk("second")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(event.KindWebhook, "github/push", mk("urgent"), WithPriority(10)); err != nil {
		t.Fatal(err)
	}

	matched := r.Match(webhookEvent("github/push"))
	if len(matched) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matched))
	}
	for _, b := range matched {
		if err := b.Handler(webhookEvent("github/push")); err != nil {
			t.Fatal(err)
		}
	}
	if order[0] != "urgent" || order[1] != "first" || order[2] != "second" {
		t.Errorf("expected priority first then registration order, got %v", order)
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	id, err := r.Register(event.KindFile, "*.yaml", noopHandler)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Unregister(id); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if got := r.Match(fileEvent("config.yaml")); len(got) != 0 {
		t.Error("unregistered binding must not match")
	}
	if err := r.Unregister(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("double unregister: expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentMatchAndRegister(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(event.KindWebhook, "*", noopHandler); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Match(webhookEvent("github/push"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id, err := r.Register(event.KindWebhook, "github/*", noopHandler)
				if err != nil {
					t.Error(err)
					return
				}
				if err := r.Unregister(id); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
