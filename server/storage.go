package server

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// InMemoryStore keeps ephemeral session state. Nothing survives a
// restart; callers re-authenticate.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewInMemoryStore constructs the store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]Session)}
}

// NewID generates an unguessable session identifier with 256 bits of
// entropy.
func (s *InMemoryStore) NewID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process has no usable entropy
		// source at all; refusing a session beats issuing a guessable one.
		panic("session id generation: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// SaveSession stores or replaces a session.
func (s *InMemoryStore) SaveSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// GetSession retrieves a session by ID.
func (s *InMemoryStore) GetSession(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// DeleteSession removes a session. The ID is never reused; new sessions
// always draw a fresh random identifier.
func (s *InMemoryStore) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// SetLastTarget records target affinity on an existing session.
// A miss is ignored: affinity is best-effort convenience state.
func (s *InMemoryStore) SetLastTarget(id, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	sess.LastTarget = target
	s.sessions[id] = sess
}

// PruneExpired drops sessions past their expiry. Called from session
// creation rather than by a background sweeper.
func (s *InMemoryStore) PruneExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
}
