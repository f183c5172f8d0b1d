package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store backend. State lives only as long as
// the process; production deployments should prefer the sqlite backend.
//
// Safe for concurrent use. A single mutex serializes all mutations, which
// also guarantees per-session append order; session counts are small enough
// that finer-grained locking buys nothing.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	now      func() time.Time // injectable clock for tests
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*Session),
		now:      time.Now,
	}
}

// Create registers a session under a fresh UUID.
func (m *MemoryStore) Create(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := &Session{
		ID:         uuid.New(),
		CreatedAt:  now,
		LastActive: now,
	}
	m.sessions[s.ID] = s
	return snapshot(s), nil
}

// Get returns a copy of the session, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snapshot(s), nil
}

// Touch refreshes last-active.
func (m *MemoryStore) Touch(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.LastActive = m.now()
	return nil
}

// SetCollection binds the collection name, first-write-wins.
func (m *MemoryStore) SetCollection(_ context.Context, id uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Collection != "" && s.Collection != name {
		return fmt.Errorf("%w: %s has %q", ErrCollectionConflict, id, s.Collection)
	}
	s.Collection = name
	return nil
}

// RecordUpload appends a file record.
func (m *MemoryStore) RecordUpload(_ context.Context, id uuid.UUID, f UploadedFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Files = append(s.Files, f)
	s.LastActive = m.now()
	return nil
}

// AppendTurn appends a chat turn.
func (m *MemoryStore) AppendTurn(_ context.Context, id uuid.UUID, t Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Turns = append(s.Turns, t)
	s.LastActive = m.now()
	return nil
}

// DeleteExpired removes sessions idle since before cutoff.
func (m *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted []uuid.UUID
	for id, s := range m.sessions {
		if s.LastActive.Before(cutoff) {
			delete(m.sessions, id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

// Close is a no-op for the memory backend.
func (*MemoryStore) Close() error { return nil }

// snapshot deep-copies the mutable slices so callers can't reach shared state.
func snapshot(s *Session) *Session {
	out := *s
	out.Files = make([]UploadedFile, len(s.Files))
	copy(out.Files, s.Files)
	out.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		out.Turns[i] = t
		if t.Metadata != nil {
			md := make(map[string]string, len(t.Metadata))
			for k, v := range t.Metadata {
				md[k] = v
			}
			out.Turns[i].Metadata = md
		}
	}
	return &out
}
