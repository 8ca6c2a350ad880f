package store

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store for tests and ephemeral sessions.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: map[string]*Session{},
	}
}

// ReadSession implements Store.
func (m *MemStore) ReadSession(ctx context.Context, fingerprint string) (*Session, error) {
	const op = "MemStore.ReadSession"
	if fingerprint == "" {
		return nil, fmt.Errorf("%s: fingerprint is empty: %w", op, ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[fingerprint]
	if !ok {
		return nil, fmt.Errorf("%s: no session for fingerprint %s: %w", op, fingerprint, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

// WriteSession implements Store.
func (m *MemStore) WriteSession(ctx context.Context, s *Session) error {
	const op = "MemStore.WriteSession"
	if s == nil {
		return fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	if s.Fingerprint == "" {
		return fmt.Errorf("%s: session fingerprint is empty: %w", op, ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.Fingerprint] = &cp
	return nil
}

// DeleteSession implements Store.
func (m *MemStore) DeleteSession(ctx context.Context, fingerprint string) error {
	const op = "MemStore.DeleteSession"
	if fingerprint == "" {
		return fmt.Errorf("%s: fingerprint is empty: %w", op, ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, fingerprint)
	return nil
}
