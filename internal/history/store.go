package history

import (
	"sync"

	"picprompter/internal/domain"
)

// Store is the ordered, append-only version history of one editing session.
// Index 0 is always the original image; the cursor marks the version on
// display. Readers always receive copies.
type Store struct {
	mu       sync.RWMutex
	versions []domain.ImageVersion
	cursor   int
}

// New returns an empty store.
func New() *Store {
	return &Store{cursor: -1}
}

// Load seeds the history with the original image and points the cursor at
// it. It fails once the store is loaded.
func (s *Store) Load(original domain.ImageVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.versions) > 0 {
		return domain.ErrHistoryLoaded
	}
	s.versions = []domain.ImageVersion{original}
	s.cursor = 0
	return nil
}

// Append adds v as the newest version and moves the cursor onto it.
func (s *Store) Append(v domain.ImageVersion) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.versions) == 0 {
		return -1, domain.ErrHistoryEmpty
	}
	s.versions = append(s.versions, v)
	s.cursor = len(s.versions) - 1
	return s.cursor, nil
}

// Select moves the cursor to index. Out-of-range indices are ignored. The
// return value reports whether the cursor changed.
func (s *Store) Select(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.versions) || index == s.cursor {
		return false
	}
	s.cursor = index
	return true
}

// ViewOriginal selects index 0.
func (s *Store) ViewOriginal() bool {
	return s.Select(0)
}

// Current returns the version under the cursor.
func (s *Store) Current() (domain.ImageVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor < 0 {
		return domain.ImageVersion{}, false
	}
	return s.versions[s.cursor], true
}

// Cursor returns the selected index, or -1 before Load.
func (s *Store) Cursor() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// Versions returns a copy of the history.
func (s *Store) Versions() []domain.ImageVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ImageVersion, len(s.versions))
	copy(out, s.versions)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions)
}

// Loaded reports whether an original image has been loaded.
func (s *Store) Loaded() bool {
	return s.Len() > 0
}

// Snapshot is a consistent view of versions and cursor.
type Snapshot struct {
	Versions []domain.ImageVersion `json:"versions"`
	Cursor   int                   `json:"cursor"`
}

// Snapshot captures versions and cursor under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ImageVersion, len(s.versions))
	copy(out, s.versions)
	return Snapshot{Versions: out, Cursor: s.cursor}
}
