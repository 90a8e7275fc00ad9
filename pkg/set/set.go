// Package set provides a small string set used for tracked-key and
// lookup-table bookkeeping across the ingestion engine.
package set

// Set represents a collection of unique strings.
type Set struct {
	m map[string]struct{}
}

// New initializes a new set with the given elements.
func New(items ...string) *Set {
	s := &Set{
		m: make(map[string]struct{}),
	}
	s.Add(items...)
	return s
}

// Add inserts elements into the set.
func (s *Set) Add(items ...string) {
	for _, item := range items {
		s.m[item] = struct{}{}
	}
}

// Contains checks if an element exists in the set.
func (s *Set) Contains(item string) bool {
	_, found := s.m[item]
	return found
}

// Remove deletes an element from the set.
func (s *Set) Remove(item string) {
	delete(s.m, item)
}

// Size returns the number of elements in the set.
func (s *Set) Size() int {
	return len(s.m)
}

// Items returns the elements of the set in unspecified order.
func (s *Set) Items() []string {
	items := make([]string, 0, len(s.m))
	for item := range s.m {
		items = append(items, item)
	}
	return items
}
