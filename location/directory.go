package location

import "sync"

// Entry is a named point of interest in the world.
type Entry struct {
	Slug        string   `json:"slug" yaml:"slug"`
	Name        string   `json:"name" yaml:"name"`
	Coordinates Position `json:"coordinates" yaml:"coordinates"`
}

// Directory is a read-only, externally refreshed list of locations.
// Entries returns the locations in a stable iteration order; the resolver
// breaks distance ties by that order.
type Directory interface {
	Entries() []Entry
}

// StaticDirectory is an in-memory Directory. Replace swaps the whole entry
// list at once, so readers never observe a partially refreshed directory.
type StaticDirectory struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewStaticDirectory creates a directory holding a copy of entries.
func NewStaticDirectory(entries ...Entry) *StaticDirectory {
	d := &StaticDirectory{}
	d.Replace(entries)
	return d
}

// Entries returns a copy of the current entries.
func (d *StaticDirectory) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Replace swaps the directory contents.
func (d *StaticDirectory) Replace(entries []Entry) {
	cp := make([]Entry, len(entries))
	copy(cp, entries)

	d.mu.Lock()
	d.entries = cp
	d.mu.Unlock()
}

// Len returns the number of entries.
func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
