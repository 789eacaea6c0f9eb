package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with an in-process map. Useful for tests
// and single-node deployments without persistence requirements.
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	closed   bool
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Save persists a new session record.
func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.sessions[sess.ID]; exists {
		return ErrSessionExists
	}

	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Load retrieves a session by ID.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return sess.Clone(), nil
}

// Update applies a partial mutation under the store lock, so concurrent
// updates for the same session serialize here.
func (s *MemoryStore) Update(ctx context.Context, sessionID string, update Update) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	updated := sess.Clone()
	if err := update.apply(updated); err != nil {
		return nil, err
	}

	s.sessions[sessionID] = updated
	return updated.Clone(), nil
}

// Delete removes a session record.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.sessions, sessionID)
	return nil
}

// ListActive returns all non-terminal sessions, ordered by creation time.
func (s *MemoryStore) ListActive(ctx context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	active := make([]*Session, 0)
	for _, sess := range s.sessions {
		if !sess.Status.Terminal() {
			active = append(active, sess.Clone())
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	return active, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.sessions = make(map[string]*Session)
	return nil
}
