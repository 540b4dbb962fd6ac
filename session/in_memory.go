package session

import (
	"fmt"
	"sync"

	"github.com/hupe1980/agentstream/core"
)

// InMemoryStore is a volatile SessionStore implementation storing
// sessions in a process local map. It is safe for concurrent access and best
// suited for tests or ephemeral demo servers. Each returned session is cloned
// to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Create allocates a new session under the given app/user scope. An existing
// session with the same id is replaced.
func (s *InMemoryStore) Create(appName, userID, id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := core.NewSession(appName, userID, id)
	s.sessions[id] = sess

	return sess.Clone(), nil
}

// Get returns a clone of an existing session or ErrNotFound.
func (s *InMemoryStore) Get(id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return sess.Clone(), nil
}

// AppendEvent adds an event to an existing session's history.
func (s *InMemoryStore) AppendEvent(sessionID string, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	sess.AddEvent(ev)

	return nil
}

// ApplyDelta merges a key/value delta into the session state.
func (s *InMemoryStore) ApplyDelta(sessionID string, delta map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	sess.ApplyStateDelta(delta)

	return nil
}
