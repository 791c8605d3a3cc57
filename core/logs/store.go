package logs

import "sync"

// DefaultMaxEntries is the store capacity used when none is configured.
const DefaultMaxEntries = 200

// Store keeps the most recent entries in a fixed-size ring and tracks how
// many of them pass the current filter.
type Store struct {
	mu       sync.RWMutex
	entries  []Entry
	head     int // index of the oldest entry
	size     int
	filter   Filter
	mode     FilterMode
	filtered int
}

// NewStore creates a store holding at most maxEntries entries.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		entries: make([]Entry, maxEntries),
		filter:  DefaultFilter(),
	}
}

// Add appends e, evicting the oldest entry when full.
func (s *Store) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == len(s.entries) {
		if s.filter.Matches(s.entries[s.head]) {
			s.filtered--
		}
		s.entries[s.head] = e
		s.head = (s.head + 1) % len(s.entries)
	} else {
		s.entries[(s.head+s.size)%len(s.entries)] = e
		s.size++
	}
	if s.filter.Matches(e) {
		s.filtered++
	}
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Cap returns the store capacity.
func (s *Store) Cap() int {
	return len(s.entries)
}

// FilteredCount returns the number of stored entries that pass the filter.
func (s *Store) FilteredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered
}

// Entries returns the stored entries that pass the filter, oldest first.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, s.filtered)
	for i := range s.size {
		e := s.entries[(s.head+i)%len(s.entries)]
		if s.filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
	s.head, s.size, s.filtered = 0, 0, 0
}

// Mode returns the active filter mode.
func (s *Store) Mode() FilterMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches to a preset filter.
func (s *Store) SetMode(mode FilterMode) {
	s.SetFilter(ModeFilter(mode))
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// SetFilter replaces the filter and recounts matching entries.
func (s *Store) SetFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
	s.filtered = 0
	for i := range s.size {
		if f.Matches(s.entries[(s.head+i)%len(s.entries)]) {
			s.filtered++
		}
	}
}
