// Package manager coordinates the adapter fleet: it owns the binding
// registry and dispatcher, runs one bounded delivery queue per source, and
// supervises adapters with a bounded restart policy.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
	"github.com/abhishekvarshney/goingest/pkg/backoff"
	"github.com/abhishekvarshney/goingest/pkg/binding"
	"github.com/abhishekvarshney/goingest/pkg/dispatch"
	"github.com/abhishekvarshney/goingest/pkg/event"
	"github.com/abhishekvarshney/goingest/pkg/metrics"
)

// defaultQueueSize is the per-source delivery queue capacity.
const defaultQueueSize = 256

// stopGraceTimeout bounds an adapter Stop during a supervised restart.
const stopGraceTimeout = 10 * time.Second

// SourceState describes where a source is in its lifecycle.
type SourceState string

const (
	// StateRegistered means the source is known but not yet started.
	StateRegistered SourceState = "registered"

	// StateRunning means the adapter is started.
	StateRunning SourceState = "running"

	// StateRestarting means the adapter faulted and a restart is pending.
	StateRestarting SourceState = "restarting"

	// StateFailed means the restart budget is spent; the source stays down
	// until the manager is restarted.
	StateFailed SourceState = "failed"

	// StateStopped means the source was shut down cleanly.
	StateStopped SourceState = "stopped"

	// StateStalled means the adapter did not stop within the shutdown
	// timeout and was abandoned.
	StateStalled SourceState = "stalled"
)

// SourceHealth is one source's entry in the Health report.
type SourceHealth struct {
	State    SourceState `json:"state"`
	Healthy  bool        `json:"healthy"`
	Restarts int         `json:"restarts"`
	LastErr  string      `json:"last_error,omitempty"`
}

// Option configures the Manager.
type Option func(*Manager)

// WithQueueSize sets the per-source delivery queue capacity.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithRestartPolicy sets the supervision backoff policy.
func WithRestartPolicy(p backoff.Policy) Option {
	return func(m *Manager) {
		m.restart = p
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithHandlerTimeout sets the dispatcher's per-handler timeout.
func WithHandlerTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.handlerTimeout = d
	}
}

// Manager is the ingestion manager.
type Manager struct {
	registry   *binding.Registry
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	recorder   metrics.Recorder

	queueSize      int
	restart        backoff.Policy
	handlerTimeout time.Duration

	mu      sync.RWMutex
	sources map[string]*source
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// source is the manager-side record for one registered adapter.
type source struct {
	adapter adapter.Adapter
	queue   chan event.Event
	faults  chan error

	mu       sync.Mutex
	state    SourceState
	restarts int
	lastErr  error
	qclosed  bool
}

// closeQueue closes the delivery queue exactly once, stopping the
// forwarder goroutine.
func (s *source) closeQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil && !s.qclosed {
		close(s.queue)
		s.qclosed = true
	}
}

func (s *source) setState(state SourceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *source) snapshot() (SourceState, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.restarts, s.lastErr
}

// NewManager creates an ingestion manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		registry:  binding.NewRegistry(),
		logger:    slog.Default().With("component", "manager"),
		recorder:  metrics.NoopRecorder{},
		queueSize: defaultQueueSize,
		restart:   backoff.DefaultPolicy(),
		sources:   make(map[string]*source),
	}
	for _, opt := range opts {
		opt(m)
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(m.logger),
		dispatch.WithRecorder(m.recorder),
	}
	if m.handlerTimeout > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithHandlerTimeout(m.handlerTimeout))
	}
	m.dispatcher = dispatch.NewDispatcher(m.registry, dispatchOpts...)
	return m
}

// RegisterSource adds an adapter to the fleet. Sources registered after
// StartAll are started immediately.
func (m *Manager) RegisterSource(a adapter.Adapter) error {
	if a == nil {
		return fmt.Errorf("manager: adapter cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := a.Name()
	if _, exists := m.sources[name]; exists {
		return fmt.Errorf("manager: source %q already registered", name)
	}

	s := &source{adapter: a, state: StateRegistered}
	m.sources[name] = s

	if m.started {
		if err := m.startSource(s); err != nil {
			delete(m.sources, name)
			return err
		}
	}
	return nil
}

// Bind registers a handler for events of the given kind whose subject
// matches the pattern. Bindings take effect immediately.
func (m *Manager) Bind(kind event.Kind, pattern string, handler binding.Handler, opts ...binding.Option) (binding.ID, error) {
	return m.registry.Register(kind, pattern, handler, opts...)
}

// Unbind removes a binding.
func (m *Manager) Unbind(id binding.ID) error {
	return m.registry.Unregister(id)
}

// StartAll starts every registered adapter. If one fails to start, the
// already-started adapters are stopped and the error is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("manager: already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true

	var startedNames []string
	for name, s := range m.sources {
		if err := m.startSource(s); err != nil {
			m.cancel()
			for _, prev := range startedNames {
				stopCtx, cancel := context.WithTimeout(context.Background(), stopGraceTimeout)
				_ = m.sources[prev].adapter.Stop(stopCtx)
				cancel()
				m.sources[prev].closeQueue()
			}
			m.started = false
			return fmt.Errorf("manager: start %s: %w", name, err)
		}
		startedNames = append(startedNames, name)
	}

	m.logger.Info("ingestion started", "sources", len(m.sources))
	return nil
}

// startSource starts the adapter and its forwarder and supervisor
// goroutines. Caller holds m.mu.
func (m *Manager) startSource(s *source) error {
	s.mu.Lock()
	s.queue = make(chan event.Event, m.queueSize)
	s.qclosed = false
	s.mu.Unlock()
	s.faults = make(chan error, 1)

	sink := &sourceSink{manager: m, source: s}
	if err := s.adapter.Start(m.ctx, sink); err != nil {
		s.setState(StateFailed)
		s.closeQueue()
		return err
	}
	s.setState(StateRunning)

	m.wg.Add(2)
	go m.forward(s)
	go m.supervise(s, sink)
	return nil
}

// forward drains the source's queue into the dispatcher, preserving the
// adapter's emit order. It exits when the queue is closed during shutdown.
func (m *Manager) forward(s *source) {
	defer m.wg.Done()
	for ev := range s.queue {
		m.dispatcher.Dispatch(ev)
	}
}

// supervise restarts the adapter on fault, spacing attempts with the
// restart policy. Past the policy's budget the source is marked failed.
func (m *Manager) supervise(s *source, sink *sourceSink) {
	defer m.wg.Done()
	log := m.logger.With("source", s.adapter.Name())

	for {
		var cause error
		select {
		case <-m.ctx.Done():
			return
		case cause = <-s.faults:
		}

		s.mu.Lock()
		s.lastErr = cause
		s.restarts++
		attempt := s.restarts
		s.state = StateRestarting
		s.mu.Unlock()

		stopCtx, cancel := context.WithTimeout(context.Background(), stopGraceTimeout)
		if err := s.adapter.Stop(stopCtx); err != nil && err != adapter.ErrNotRunning {
			log.Warn("stop before restart failed", "error", err)
		}
		cancel()

		if m.restart.Exhausted(attempt) {
			s.setState(StateFailed)
			log.Error("restart budget exhausted, source permanently failed",
				"restarts", attempt, "cause", cause)
			return
		}

		delay := m.restart.Delay(attempt)
		log.Warn("adapter faulted, restarting", "cause", cause, "attempt", attempt, "delay", delay)
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := s.adapter.Start(m.ctx, sink); err != nil {
			// Count the failed start against the budget and try again.
			select {
			case s.faults <- fmt.Errorf("restart: %w", err):
			default:
			}
			continue
		}
		s.setState(StateRunning)
		m.recorder.AdapterRestart(s.adapter.Name())
		log.Info("adapter restarted", "attempt", attempt)
	}
}

// StopAll shuts the fleet down: it cancels the run context, stops every
// adapter under a shared deadline, and waits up to timeout. An adapter that
// does not stop in time is marked stalled and abandoned along with its
// forwarder goroutine.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager: not started")
	}
	m.started = false
	cancel := m.cancel
	sources := make(map[string]*source, len(m.sources))
	for name, s := range m.sources {
		sources[name] = s
	}
	m.mu.Unlock()

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
	defer stopCancel()

	var wg sync.WaitGroup
	var stalledMu sync.Mutex
	var stalled []string

	for name, s := range sources {
		state, _, _ := s.snapshot()
		if state != StateRunning && state != StateRestarting {
			continue
		}
		wg.Add(1)
		go func(name string, s *source) {
			defer wg.Done()
			done := make(chan error, 1)
			go func() { done <- s.adapter.Stop(stopCtx) }()
			select {
			case err := <-done:
				if err != nil && err != adapter.ErrNotRunning {
					m.logger.Warn("stop failed", "source", name, "error", err)
				}
				s.setState(StateStopped)
				s.closeQueue()
			case <-stopCtx.Done():
				s.setState(StateStalled)
				stalledMu.Lock()
				stalled = append(stalled, name)
				stalledMu.Unlock()
			}
		}(name, s)
	}
	wg.Wait()

	// Close the queues of sources that are already down so their
	// forwarders cannot linger.
	for _, s := range sources {
		state, _, _ := s.snapshot()
		if state == StateRegistered || state == StateFailed || state == StateStopped {
			s.closeQueue()
		}
	}

	// Wait for the forwarders to flush what the queues still hold,
	// bounded by what remains of the shutdown timeout. Events an adapter
	// emitted before its stop must still reach their handlers.
	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-stopCtx.Done():
		m.logger.Warn("shutdown timeout reached before queues drained")
	}

	if len(stalled) > 0 {
		m.logger.Error("adapters did not stop in time, abandoned", "sources", stalled)
		return fmt.Errorf("manager: %d source(s) stalled during shutdown: %v", len(stalled), stalled)
	}

	m.logger.Info("ingestion stopped")
	return nil
}

// Health reports the state of every source.
func (m *Manager) Health() map[string]SourceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := make(map[string]SourceHealth, len(m.sources))
	for name, s := range m.sources {
		state, restarts, lastErr := s.snapshot()
		h := SourceHealth{
			State:    state,
			Healthy:  state == StateRunning && s.adapter.Healthy(),
			Restarts: restarts,
		}
		if lastErr != nil {
			h.LastErr = lastErr.Error()
		}
		report[name] = h
	}
	return report
}

// Sources returns the registered source names.
func (m *Manager) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	return names
}

// Dispatcher exposes the manager's dispatcher for direct injection of
// synthetic events.
func (m *Manager) Dispatcher() *dispatch.Dispatcher {
	return m.dispatcher
}

// sourceSink is the per-source adapter.Sink. Emit blocks while the queue
// is full so a slow consumer applies backpressure to its own adapter
// without affecting other sources.
type sourceSink struct {
	manager *Manager
	source  *source
}

func (k *sourceSink) Emit(ev event.Event) {
	k.manager.recorder.EventEmitted(ev.Source, string(ev.Kind))
	select {
	case k.source.queue <- ev:
	case <-k.manager.ctx.Done():
		// Shutting down; the event is dropped with the queue.
	}
}

func (k *sourceSink) Fault(err error) {
	select {
	case k.source.faults <- err:
	default:
		// A restart is already pending; collapsing concurrent faults
		// keeps the budget honest.
	}
}
