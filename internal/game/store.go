package game

import (
	"context"
	"sync"
)

// Store holds sessions by id. Implementations must be safe for concurrent
// use and must return copies, never shared pointers. Callers (the Manager)
// serialize writes to any single id; reads and writes to distinct ids must
// not block each other.
type Store interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
	Len(ctx context.Context) (int, error)
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore returns the default in-process store. Sessions do not
// survive a restart.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]*Session)}
}

func (m *memoryStore) Put(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return ErrInvalidParameter
	}
	m.mu.Lock()
	m.sessions[s.ID] = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memoryStore) List(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *memoryStore) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}
