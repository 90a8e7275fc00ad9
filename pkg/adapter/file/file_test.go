package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/event"
)

type captureSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *captureSink) Emit(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) Fault(err error) {}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) all() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

func runWatcher(t *testing.T, config Config) (*Adapter, *captureSink) {
	t.Helper()
	a, err := New("watcher", config)
	if err != nil {
		t.Fatal(err)
	}
	sink := &captureSink{}
	if err := a.Start(context.Background(), sink); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a, sink
}

func waitCount(t *testing.T, sink *captureSink, want int) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for sink.count() < want {
		select {
		case <-deadline:
			t.Fatalf("expected %d events, got %d", want, sink.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := New("w", Config{}); err == nil {
		t.Error("missing root should fail validation")
	}
	if _, err := New("w", Config{Root: "/tmp", Pattern: "[a-"}); err == nil {
		t.Error("malformed glob should fail validation")
	}
	if _, err := New("w", Config{Root: "/tmp", Format: "toml"}); err == nil {
		t.Error("unknown format should fail validation")
	}
}

func TestCreateEmitsCreatedEvent(t *testing.T) {
	dir := t.TempDir()
	_, sink := runWatcher(t, Config{Root: dir, Pattern: "*.yaml", Format: FormatYAML})

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("env: prod\nreplicas: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitCount(t, sink, 1)

	ev := sink.all()[0]
	if ev.Kind != event.KindFile {
		t.Errorf("expected kind file, got %s", ev.Kind)
	}
	if ev.Subject != "config.yaml" {
		t.Errorf("expected subject config.yaml, got %q", ev.Subject)
	}
	if ev.Metadata["change_type"] != ChangeCreated {
		t.Errorf("expected change_type created, got %v", ev.Metadata["change_type"])
	}
	if ev.Payload["env"] != "prod" {
		t.Errorf("yaml payload not decoded: %v", ev.Payload)
	}
}

func TestPatternFiltersEvents(t *testing.T) {
	dir := t.TempDir()
	_, sink := runWatcher(t, Config{Root: dir, Pattern: "*.yaml"})

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("a: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitCount(t, sink, 1)
	time.Sleep(100 * time.Millisecond)

	for _, ev := range sink.all() {
		if ev.Subject != "config.yaml" {
			t.Errorf("non-matching file produced event: %q", ev.Subject)
		}
	}
}

func TestInitialScan(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.json"), []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, sink := runWatcher(t, Config{Root: dir, Pattern: "*.json", Format: FormatJSON, InitialScan: true})
	waitCount(t, sink, 1)

	ev := sink.all()[0]
	if ev.Metadata["initial"] != true {
		t.Errorf("initial scan event should carry initial metadata, got %v", ev.Metadata)
	}
	if ev.Metadata["change_type"] != ChangeCreated {
		t.Errorf("expected change_type created, got %v", ev.Metadata["change_type"])
	}
}

func TestChangesOnlySkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.yaml"), []byte("a: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, sink := runWatcher(t, Config{Root: dir, Pattern: "*.yaml", InitialScan: false})
	time.Sleep(150 * time.Millisecond)
	if sink.count() != 0 {
		t.Errorf("changes-only mode must not report pre-existing files, got %d events", sink.count())
	}
}

func TestDeleteEmitsDeletedEvent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doomed.yaml")
	if err := os.WriteFile(target, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, sink := runWatcher(t, Config{Root: dir, Pattern: "*.yaml"})

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	waitCount(t, sink, 1)

	ev := sink.all()[0]
	if ev.Metadata["change_type"] != ChangeDeleted {
		t.Errorf("expected change_type deleted, got %v", ev.Metadata["change_type"])
	}
	if ev.Payload != nil {
		t.Error("deleted events must not carry content")
	}
}

func TestParseFailureSkipsEvent(t *testing.T) {
	dir := t.TempDir()
	_, sink := runWatcher(t, Config{Root: dir, Pattern: "*.json", Format: FormatJSON})

	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if sink.count() != 0 {
		t.Errorf("unparseable file must emit no events, got %d", sink.count())
	}
}

func TestRecursiveWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	_, sink := runWatcher(t, Config{Root: dir, Pattern: "*.yaml", Recursive: true})

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a beat to pick up the new directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(sub, "nested.yaml"), []byte("a: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitCount(t, sink, 1)

	if got := sink.all()[0].Subject; got != "nested.yaml" {
		t.Errorf("expected nested.yaml event, got %q", got)
	}
}
