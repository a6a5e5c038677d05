package main

import (
	"context"
	"sync"
	"time"
)

type SessionStore interface {
	Create(ctx context.Context, username string, isAdmin bool) (Session, error)
	Lookup(ctx context.Context, id string) (*Session, error)
	Destroy(ctx context.Context, id string) error
	Sweep(ctx context.Context) (int, error)
}

// memorySessionStore keeps sessions in process memory. A session older than
// ttl is treated as absent by Lookup even if the sweep has not run yet.
type memorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	ttl      time.Duration
	now      func() time.Time
}

func newMemorySessionStore(ttl time.Duration) *memorySessionStore {
	return &memorySessionStore{
		sessions: make(map[string]Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *memorySessionStore) Create(_ context.Context, username string, isAdmin bool) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		token, err := generateToken()
		if err != nil {
			return Session{}, err
		}
		if _, taken := s.sessions[token]; taken {
			continue
		}

		session := Session{
			ID:        token,
			Username:  username,
			IsAdmin:   isAdmin,
			CreatedAt: s.now(),
		}
		s.sessions[token] = session
		return session, nil
	}
}

func (s *memorySessionStore) Lookup(_ context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}

	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !s.expired(session) {
		return &session, nil
	}

	s.mu.Lock()
	// Re-check under the write lock so a concurrent Destroy/Create is respected.
	if current, ok := s.sessions[id]; ok && s.expired(current) {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	return nil, nil
}

func (s *memorySessionStore) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

func (s *memorySessionStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if s.expired(session) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *memorySessionStore) expired(session Session) bool {
	return s.now().Sub(session.CreatedAt) > s.ttl
}
