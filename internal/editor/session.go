package editor

import (
	"context"
	"sync"
	"time"

	"picprompter/internal/domain"
	"picprompter/internal/history"
)

// Session is one editing workspace: a version history plus the state of the
// single request that may be in flight for it.
type Session struct {
	ID      string
	OwnerID string
	Locale  string
	History *history.Store

	mu          sync.Mutex
	busy        bool
	cancel      context.CancelCauseFunc
	lastFailure *domain.GenerationFailure
	createdAt   time.Time
	updatedAt   time.Time
}

// NewSession returns an empty session.
func NewSession(id, ownerID, locale string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		OwnerID:   ownerID,
		Locale:    locale,
		History:   history.New(),
		createdAt: now,
		updatedAt: now,
	}
}

// Busy reports whether a generation or edit is pending.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// LastFailure returns the failure of the most recent request, if it failed.
func (s *Session) LastFailure() *domain.GenerationFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFailure == nil {
		return nil
	}
	f := *s.lastFailure
	return &f
}

// Select moves the cursor; see history.Store.Select.
func (s *Session) Select(index int) bool {
	moved := s.History.Select(index)
	if moved {
		s.touch()
	}
	return moved
}

// ViewOriginal selects the original image.
func (s *Session) ViewOriginal() bool {
	return s.Select(0)
}

// State is a read-only snapshot for rendering.
type State struct {
	ID          string                    `json:"id"`
	Busy        bool                      `json:"busy"`
	Cursor      int                       `json:"cursor"`
	Versions    []domain.ImageVersion     `json:"versions"`
	Current     *domain.ImageVersion      `json:"current,omitempty"`
	LastFailure *domain.GenerationFailure `json:"last_failure,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// State captures the session for display.
func (s *Session) State() State {
	snap := s.History.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		ID:        s.ID,
		Busy:      s.busy,
		Cursor:    snap.Cursor,
		Versions:  snap.Versions,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if snap.Cursor >= 0 && snap.Cursor < len(snap.Versions) {
		cur := snap.Versions[snap.Cursor]
		st.Current = &cur
	}
	if s.lastFailure != nil {
		f := *s.lastFailure
		st.LastFailure = &f
	}
	return st
}

// begin marks the session busy and derives the request context. It fails
// with ErrBusy while another request is pending.
func (s *Session) begin(parent context.Context, timeout time.Duration) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, nil, domain.ErrBusy
	}
	ctx, cancel := context.WithCancelCause(parent)
	var stopTimer context.CancelFunc = func() {}
	if timeout > 0 {
		ctx, stopTimer = context.WithTimeout(ctx, timeout)
	}
	s.busy = true
	s.cancel = cancel
	done := func() {
		stopTimer()
		cancel(nil)
		s.mu.Lock()
		s.busy = false
		s.cancel = nil
		s.updatedAt = time.Now().UTC()
		s.mu.Unlock()
	}
	return ctx, done, nil
}

// abort cancels the pending request, if any.
func (s *Session) abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.busy || s.cancel == nil {
		return false
	}
	s.cancel(domain.ErrCanceled)
	return true
}

func (s *Session) recordFailure(f *domain.GenerationFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFailure = f
}

// activity reports whether a request is pending and when the session was
// last used.
func (s *Session) activity() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy, s.updatedAt
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt = time.Now().UTC()
}
