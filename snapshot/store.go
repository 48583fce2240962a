package snapshot

import "sync"

// PriorStore holds the previous snapshot generation. Replace swaps the whole
// generation; there is no history.
type PriorStore interface {
	Get(id string) (EntityState, bool)
	Replace(entities map[string]EntityState)
	Len() int
}

// MemoryPriorStore is an in-process PriorStore.
type MemoryPriorStore struct {
	mu       sync.RWMutex
	entities map[string]EntityState
}

var _ PriorStore = (*MemoryPriorStore)(nil)

// NewMemoryPriorStore returns an empty store.
func NewMemoryPriorStore() *MemoryPriorStore {
	return &MemoryPriorStore{entities: make(map[string]EntityState)}
}

// Get returns a copy of the prior state of id.
func (s *MemoryPriorStore) Get(id string) (EntityState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entities[id]
	if !ok {
		return EntityState{}, false
	}
	return st.clone(), true
}

// Replace installs entities as the prior generation.
func (s *MemoryPriorStore) Replace(entities map[string]EntityState) {
	next := make(map[string]EntityState, len(entities))
	for id, st := range entities {
		next[id] = st.clone()
	}
	s.mu.Lock()
	s.entities = next
	s.mu.Unlock()
}

// Len returns the number of entities held.
func (s *MemoryPriorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}
