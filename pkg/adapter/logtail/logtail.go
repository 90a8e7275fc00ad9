// Package logtail implements the log tailer adapter. It follows a log file
// by polling its size, emits one event per appended line, and survives
// rotation by reopening when the file shrinks or is replaced.
package logtail

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
	"github.com/abhishekvarshney/goingest/pkg/event"
)

// Config holds the log tailer configuration.
type Config struct {
	// Path of the log file to follow
	Path string `json:"path" yaml:"path"`

	// Interval between size checks; defaults to 1s
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`

	// Format selects line parsing; defaults to raw pass-through
	Format LineFormat `json:"format,omitempty" yaml:"format,omitempty"`

	// LinePattern is the regex when Format is FormatRegex
	LinePattern string `json:"line_pattern,omitempty" yaml:"line_pattern,omitempty"`

	// FromStart reads the existing content first instead of starting at
	// the current end of file
	FromStart bool `json:"from_start,omitempty" yaml:"from_start,omitempty"`
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Path == "" {
		return adapter.ErrInvalidConfig{Field: "path", Reason: "log file path required"}
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	return nil
}

// Adapter is the log tailer.
type Adapter struct {
	*adapter.Base
	config Config
	parse  lineParser
	cancel context.CancelFunc
	done   chan struct{}

	// follower state, owned by the loop goroutine
	file    *os.File
	offset  int64
	partial []byte
}

// New creates a log tailer for the given file.
func New(name string, config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	parse, err := newLineParser(config.Format, config.LinePattern)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		Base:   adapter.NewBase(name, event.KindLog),
		config: config,
		parse:  parse,
	}, nil
}

// Start opens the file and begins following it. A missing file is not an
// error; the tailer waits for it to appear.
func (a *Adapter) Start(ctx context.Context, sink adapter.Sink) error {
	if err := a.SetRunning(true); err != nil {
		return err
	}

	if err := a.open(); err != nil && !os.IsNotExist(err) {
		_ = a.SetRunning(false)
		return fmt.Errorf("logtail %s: %w", a.Name(), err)
	}
	if a.file != nil && !a.config.FromStart {
		info, err := a.file.Stat()
		if err != nil {
			_ = a.file.Close()
			_ = a.SetRunning(false)
			return fmt.Errorf("logtail %s: %w", a.Name(), err)
		}
		a.offset = info.Size()
		if _, err := a.file.Seek(a.offset, io.SeekStart); err != nil {
			_ = a.file.Close()
			_ = a.SetRunning(false)
			return fmt.Errorf("logtail %s: %w", a.Name(), err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	a.Go(sink, func() {
		defer close(a.done)
		defer a.closeFile()
		a.loop(loopCtx, sink)
	})

	a.Logger().Info("log tailer started", "path", a.config.Path, "from_start", a.config.FromStart)
	return nil
}

// Stop cancels the follow loop.
func (a *Adapter) Stop(ctx context.Context) error {
	if err := a.SetRunning(false); err != nil {
		return err
	}
	a.cancel()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) open() error {
	f, err := os.Open(a.config.Path)
	if err != nil {
		return err
	}
	a.file = f
	a.offset = 0
	a.partial = nil
	return nil
}

func (a *Adapter) closeFile() {
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
}

func (a *Adapter) loop(ctx context.Context, sink adapter.Sink) {
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.follow(sink)
		}
	}
}

// follow reads whatever was appended since the last tick. Truncation or
// replacement resets the follower to the start of the new file.
func (a *Adapter) follow(sink adapter.Sink) {
	if a.file == nil {
		if err := a.open(); err != nil {
			if !os.IsNotExist(err) {
				a.Failed()
				a.Logger().Warn("open failed", "error", err)
			}
			return
		}
		a.Logger().Info("log file appeared", "path", a.config.Path)
	}

	info, err := os.Stat(a.config.Path)
	if err != nil {
		// Rotated away; drain the old handle on the next ticks until
		// the new file shows up.
		a.closeFile()
		return
	}

	if info.Size() < a.offset {
		a.Logger().Info("log file rotated", "path", a.config.Path, "size", info.Size(), "offset", a.offset)
		a.closeFile()
		if err := a.open(); err != nil {
			a.Failed()
			return
		}
	} else if current, err := a.file.Stat(); err == nil && !os.SameFile(current, info) {
		// Renamed and recreated at the same path.
		a.closeFile()
		if err := a.open(); err != nil {
			a.Failed()
			return
		}
	}

	if err := a.readNew(sink); err != nil {
		a.Failed()
		a.Logger().Warn("read failed", "error", err)
		return
	}
	a.Observed()
}

func (a *Adapter) readNew(sink adapter.Sink) error {
	reader := bufio.NewReader(a.file)
	for {
		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 && err == nil {
			line := append(a.partial, chunk[:len(chunk)-1]...)
			a.partial = nil
			a.offset += int64(len(chunk))
			a.emitLine(string(line), sink)
			continue
		}
		if len(chunk) > 0 {
			// No trailing newline yet; hold the fragment for the
			// next tick.
			a.partial = append(a.partial, chunk...)
			a.offset += int64(len(chunk))
		}
		if err == io.EOF {
			return nil
		}
		return err
	}
}

func (a *Adapter) emitLine(line string, sink adapter.Sink) {
	if line == "" {
		return
	}
	doc, err := a.parse(line)
	if err != nil {
		a.Logger().Warn("unparseable line skipped", "error", err)
		return
	}
	if doc == nil {
		return
	}

	ev := event.New(event.KindLog, a.Name(), filepath.Base(a.config.Path))
	ev.Payload = doc
	ev.Metadata = map[string]interface{}{
		"path":   a.config.Path,
		"offset": a.offset,
	}
	sink.Emit(ev)
}
