// Package memory provides an in-process session store.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"token-analyst/internal/observability"
	"token-analyst/internal/session"
)

const backend = "memory"

// ErrInvalidSession is returned when saving a session without an ID.
var ErrInvalidSession = errors.New("invalid session")

// Store is an in-memory implementation of session.Store. Sessions are
// copied on the way in and out.
type Store struct {
	mu   sync.RWMutex
	data map[string]*session.Session
	now  func() time.Time
}

// Compile-time interface check.
var _ session.Store = (*Store)(nil)

// NewStore creates a new in-memory session store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*session.Session),
		now:  time.Now,
	}
}

// Get returns a copy of the session.
func (s *Store) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.data[id]
	if !ok {
		observability.RecordSessionOp(backend, "get", session.ErrNotFound)
		return nil, session.ErrNotFound
	}
	observability.RecordSessionOp(backend, "get", nil)
	return sess.Clone(), nil
}

// Create stores a new empty session.
func (s *Store) Create(_ context.Context) (*session.Session, error) {
	sess := session.New(s.now())

	s.mu.Lock()
	s.data[sess.ID] = sess.Clone()
	s.mu.Unlock()

	observability.RecordSessionOp(backend, "create", nil)
	return sess, nil
}

// Save replaces the stored copy.
func (s *Store) Save(_ context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[sess.ID] = sess.Clone()
	observability.RecordSessionOp(backend, "save", nil)
	return nil
}

// Delete removes the session.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[id]; !ok {
		observability.RecordSessionOp(backend, "delete", session.ErrNotFound)
		return session.ErrNotFound
	}
	delete(s.data, id)
	observability.RecordSessionOp(backend, "delete", nil)
	return nil
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
