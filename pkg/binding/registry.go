package binding

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/abhishekvarshney/goingest/pkg/event"
)

// Registry is the indexed table of registered bindings. It is written by
// Register/Unregister and read by the dispatcher on every event; both may
// happen concurrently, so all state is guarded by a read-write lock and
// matching never blocks on registrations already in flight.
type Registry struct {
	mu     sync.RWMutex
	byKind map[event.Kind][]*Binding
	byID   map[ID]*Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKind: make(map[event.Kind][]*Binding),
		byID:   make(map[ID]*Binding),
	}
}

// Register adds a binding and returns its ID. A pattern that is invalid for
// the declared kind is rejected here, never at dispatch time.
func (r *Registry) Register(kind event.Kind, pattern string, handler Handler, opts ...Option) (ID, error) {
	if !kind.Valid() {
		return "", ErrInvalidKind
	}
	if handler == nil {
		return "", ErrNilHandler
	}
	if err := validatePattern(kind, pattern); err != nil {
		return "", err
	}

	b := &Binding{
		ID:      ID(uuid.New().String()),
		Kind:    kind,
		Pattern: pattern,
		Handler: handler,
	}
	for _, opt := range opts {
		opt(b)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byKind[kind] = append(r.byKind[kind], b)
	r.byID[b.ID] = b
	return b.ID, nil
}

// Unregister removes a binding by ID.
func (r *Registry) Unregister(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byID, id)

	list := r.byKind[b.Kind]
	for i, candidate := range list {
		if candidate.ID == id {
			r.byKind[b.Kind] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

// Match returns the bindings whose kind equals the event's kind and whose
// pattern matches the event's subject, ordered by priority (higher first)
// and then by registration order. An event matching nothing returns an
// empty slice; that is not an error.
func (r *Registry) Match(ev event.Event) []*Binding {
	r.mu.RLock()
	candidates := r.byKind[ev.Kind]
	match := matcherFor(ev.Kind)

	var matched []*Binding
	for _, b := range candidates {
		if match(b.Pattern, ev.Subject) {
			matched = append(matched, b)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})
	return matched
}

// Len returns the number of registered bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
