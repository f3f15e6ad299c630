package memory

import (
	"context"
	"sync"

	"github.com/metaform/metaform-management/pkg/domain"
)

// Store implements ports.SocketStore in memory.
// Safe for concurrent use. State is lost when the process exits.
type Store struct {
	data map[string]*domain.PresenceState
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.PresenceState),
	}
}

// Set stores a copy of the state, so later caller mutations do not leak in.
func (s *Store) Set(ctx context.Context, socketID string, state *domain.PresenceState) error {
	copied := state.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[socketID] = copied
	return nil
}

// Get retrieves a copy of the state.
func (s *Store) Get(ctx context.Context, socketID string) (*domain.PresenceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[socketID]
	if !ok {
		return nil, domain.ErrStateNotFound
	}
	return state.Clone(), nil
}

// Remove deletes the state.
func (s *Store) Remove(ctx context.Context, socketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, socketID)
	return nil
}

// List returns a snapshot of every entry.
func (s *Store) List(ctx context.Context) ([]domain.SocketEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.SocketEntry, 0, len(s.data))
	for id, state := range s.data {
		entries = append(entries, domain.SocketEntry{SocketID: id, State: state.Clone()})
	}
	return entries, nil
}
