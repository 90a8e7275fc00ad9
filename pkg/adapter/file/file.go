// Package file implements the filesystem watcher adapter. It watches a
// root directory through fsnotify, matches entries against a glob pattern
// and emits one event per file created, modified or deleted, optionally
// decoding file content with a configured format parser.
package file

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
	"github.com/abhishekvarshney/goingest/pkg/changedetect"
	"github.com/abhishekvarshney/goingest/pkg/event"
)

// Change types carried in event metadata.
const (
	ChangeCreated  = "created"
	ChangeModified = "modified"
	ChangeDeleted  = "deleted"
)

// Config holds the file adapter configuration.
type Config struct {
	// Root is the watched directory
	Root string `json:"root" yaml:"root"`

	// Pattern is a glob matched against file base names; empty matches all
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Recursive watches subdirectories, including ones created later
	Recursive bool `json:"recursive,omitempty" yaml:"recursive,omitempty"`

	// InitialScan emits one created event per pre-existing matching file
	// on start; otherwise only changes after start are reported
	InitialScan bool `json:"initial_scan,omitempty" yaml:"initial_scan,omitempty"`

	// Format decodes file content into the event payload
	Format Format `json:"format,omitempty" yaml:"format,omitempty"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Root == "" {
		return adapter.ErrInvalidConfig{Field: "root", Reason: "root directory required"}
	}
	if c.Pattern != "" {
		if _, err := path.Match(c.Pattern, "probe"); err != nil {
			return adapter.ErrInvalidConfig{Field: "pattern", Reason: "malformed glob"}
		}
	}
	return c.Format.validate()
}

// Adapter is the file watcher.
type Adapter struct {
	*adapter.Base
	config   Config
	detector *changedetect.Detector
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a file adapter. The configuration is validated here.
func New(name string, config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		Base:     adapter.NewBase(name, event.KindFile),
		config:   config,
		detector: changedetect.NewDetector(),
	}, nil
}

// Start sets up the fsnotify watches, performs the initial scan when
// configured, and schedules the watch loop.
func (a *Adapter) Start(ctx context.Context, sink adapter.Sink) error {
	if err := a.SetRunning(true); err != nil {
		return err
	}

	info, err := os.Stat(a.config.Root)
	if err != nil {
		_ = a.SetRunning(false)
		return fmt.Errorf("file %s: stat root: %w", a.Name(), err)
	}
	if !info.IsDir() {
		_ = a.SetRunning(false)
		return fmt.Errorf("file %s: root %s is not a directory", a.Name(), a.config.Root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = a.SetRunning(false)
		return fmt.Errorf("file %s: create watcher: %w", a.Name(), err)
	}
	a.watcher = watcher

	if err := a.addWatches(); err != nil {
		_ = watcher.Close()
		_ = a.SetRunning(false)
		return err
	}

	if a.config.InitialScan {
		a.scan(sink)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	a.Go(sink, func() {
		defer close(a.done)
		a.loop(loopCtx, sink)
	})

	a.Logger().Info("file watcher started",
		"root", a.config.Root, "pattern", a.config.Pattern, "recursive", a.config.Recursive)
	return nil
}

// Stop cancels the watch loop and closes the fsnotify watcher.
func (a *Adapter) Stop(ctx context.Context) error {
	if err := a.SetRunning(false); err != nil {
		return err
	}
	a.cancel()
	err := a.watcher.Close()

	select {
	case <-a.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// addWatches registers the root and, when recursive, all subdirectories.
func (a *Adapter) addWatches() error {
	if !a.config.Recursive {
		if err := a.watcher.Add(a.config.Root); err != nil {
			return fmt.Errorf("file %s: watch %s: %w", a.Name(), a.config.Root, err)
		}
		return nil
	}
	return filepath.Walk(a.config.Root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if addErr := a.watcher.Add(p); addErr != nil {
				return fmt.Errorf("file %s: watch %s: %w", a.Name(), p, addErr)
			}
		}
		return nil
	})
}

// scan emits one created event per pre-existing matching file.
func (a *Adapter) scan(sink adapter.Sink) {
	_ = filepath.Walk(a.config.Root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if !a.config.Recursive && p != a.config.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if a.matches(p) {
			a.emitChange(sink, p, ChangeCreated, true)
		}
		return nil
	})
}

func (a *Adapter) loop(ctx context.Context, sink adapter.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case fsEvent, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			a.handleFsEvent(sink, fsEvent)
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.Failed()
			a.Logger().Warn("watcher error", "error", err)
		}
	}
}

func (a *Adapter) handleFsEvent(sink adapter.Sink, fsEvent fsnotify.Event) {
	switch {
	case fsEvent.Op.Has(fsnotify.Create):
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			if a.config.Recursive {
				if err := a.watcher.Add(fsEvent.Name); err != nil {
					a.Logger().Warn("watching new directory failed", "dir", fsEvent.Name, "error", err)
				}
			}
			return
		}
		if a.matches(fsEvent.Name) {
			a.emitChange(sink, fsEvent.Name, ChangeCreated, false)
		}
	case fsEvent.Op.Has(fsnotify.Write):
		if a.matches(fsEvent.Name) {
			a.emitChange(sink, fsEvent.Name, ChangeModified, false)
		}
	case fsEvent.Op.Has(fsnotify.Remove), fsEvent.Op.Has(fsnotify.Rename):
		if a.matches(fsEvent.Name) {
			a.detector.Forget(fsEvent.Name)
			a.emitDeleted(sink, fsEvent.Name)
		}
	}
}

func (a *Adapter) matches(p string) bool {
	if a.config.Pattern == "" {
		return true
	}
	ok, err := path.Match(a.config.Pattern, filepath.Base(p))
	return err == nil && ok
}

// emitChange reads and decodes the file, suppresses unchanged content, and
// emits one event. A parse failure skips the change entirely.
func (a *Adapter) emitChange(sink adapter.Sink, p, changeType string, initial bool) {
	data, err := os.ReadFile(p)
	if err != nil {
		// The file can legitimately vanish between the notification and
		// the read.
		a.Logger().Debug("reading changed file failed", "path", p, "error", err)
		return
	}

	if !a.detector.Observe(p, changedetect.DigestBytes(data)) {
		return
	}

	var payload map[string]interface{}
	if a.config.Format != FormatNone {
		payload, err = parse(a.config.Format, data)
		if err != nil {
			a.Failed()
			a.Logger().Warn("parsing file failed, skipping change", "path", p, "error", err)
			return
		}
	}
	a.Observed()

	ev := event.New(event.KindFile, a.Name(), filepath.Base(p))
	ev.Payload = payload
	ev.Metadata = map[string]interface{}{
		"path":        p,
		"change_type": changeType,
		"observed_at": time.Now(),
	}
	if initial {
		ev.Metadata["initial"] = true
	}
	sink.Emit(ev)
}

func (a *Adapter) emitDeleted(sink adapter.Sink, p string) {
	a.Observed()
	ev := event.New(event.KindFile, a.Name(), filepath.Base(p))
	ev.Metadata = map[string]interface{}{
		"path":        p,
		"change_type": ChangeDeleted,
	}
	sink.Emit(ev)
}
