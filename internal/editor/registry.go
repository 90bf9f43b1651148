package editor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"picprompter/internal/domain"
	"picprompter/internal/infra"
)

// RegistryOption tunes session eviction.
type RegistryOption func(*Registry)

// WithIdleTTL drops sessions that have been idle longer than ttl on the next
// sweep. Zero keeps sessions until they are deleted.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTTL = ttl }
}

// WithMaxPerOwner caps how many sessions one owner may hold. Creating one
// more evicts the owner's least recently active session.
func WithMaxPerOwner(n int) RegistryOption {
	return func(r *Registry) { r.maxPerOwner = n }
}

// WithRegistryLogger logs evictions.
func WithRegistryLogger(logger *infra.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry keeps editing sessions in memory, scoped by owner.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTTL     time.Duration
	maxPerOwner int
	logger      *infra.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{sessions: make(map[string]*Session), logger: infra.DiscardLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a new empty session for owner, evicting the owner's least
// recently active sessions when the cap is reached.
func (r *Registry) Create(ownerID, locale string) *Session {
	s := NewSession(uuid.NewString(), ownerID, locale)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxPerOwner > 0 {
		owned := r.ownedLocked(ownerID)
		for len(owned) >= r.maxPerOwner {
			victim := owned[0]
			r.removeLocked(victim)
			owned = owned[1:]
			r.logger.Info().Str("session_id", victim.ID).Str("owner_id", ownerID).Msg("editor: session evicted (per-owner cap)")
		}
	}
	r.sessions[s.ID] = s
	return s
}

// Get returns the session when it exists and belongs to owner, and counts
// as activity for idle eviction.
func (r *Registry) Get(id, ownerID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || s.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	s.touch()
	return s, nil
}

// Delete drops a session; it is a no-op for other owners.
func (r *Registry) Delete(id, ownerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.OwnerID != ownerID {
		return false
	}
	r.removeLocked(s)
	return true
}

// List returns the owner's sessions, oldest first.
func (r *Registry) List(ownerID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions idle for longer than the TTL at now. Busy sessions
// are never swept. It returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, s := range r.sessions {
		busy, last := s.activity()
		if busy || now.Sub(last) <= r.idleTTL {
			continue
		}
		r.removeLocked(s)
		removed++
	}
	if removed > 0 {
		r.logger.Info().Int("removed", removed).Int("remaining", len(r.sessions)).Msg("editor: idle sessions swept")
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.idleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// ownedLocked returns owner's sessions, idle ones first, each group least
// recently active first.
func (r *Registry) ownedLocked(ownerID string) []*Session {
	type entry struct {
		s    *Session
		busy bool
		last time.Time
	}
	var entries []entry
	for _, s := range r.sessions {
		if s.OwnerID != ownerID {
			continue
		}
		busy, last := s.activity()
		entries = append(entries, entry{s: s, busy: busy, last: last})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].busy != entries[j].busy {
			return !entries[i].busy
		}
		return entries[i].last.Before(entries[j].last)
	})
	out := make([]*Session, len(entries))
	for i, e := range entries {
		out[i] = e.s
	}
	return out
}

func (r *Registry) removeLocked(s *Session) {
	s.abort()
	delete(r.sessions, s.ID)
}
