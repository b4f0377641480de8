// Copyright 2024-2026 Aiku AI

package relay

import (
	"sync"
)

// SessionState is the authentication state of an identity.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateCodeSent
	StateAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateCodeSent:
		return "code_sent"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

type session struct {
	state    SessionState
	codeHash string
	client   Client
}

// SessionStore maps identities to their session state and live client.
// Only SessionManager mutates it. Thread-safe.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[Identity]session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[Identity]session),
	}
}

// State returns the state of identity. Unknown identities are
// unauthenticated.
func (s *SessionStore) State(identity Identity) SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[identity].state
}

// AuthenticatedClient returns the live client of an authenticated identity.
func (s *SessionStore) AuthenticatedClient(identity Identity) (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[identity]
	if !ok || sess.state != StateAuthenticated {
		return nil, false
	}
	return sess.client, true
}

// PendingCode returns the pending code hash and the client it was requested
// on, if identity is waiting for verification.
func (s *SessionStore) PendingCode(identity Identity) (codeHash string, client Client, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, found := s.sessions[identity]
	if !found || sess.state != StateCodeSent || sess.codeHash == "" {
		return "", nil, false
	}
	return sess.codeHash, sess.client, true
}

// SetCodeSent records a pending code hash. It also resets an authenticated
// session whose client lost its authorization.
func (s *SessionStore) SetCodeSent(identity Identity, client Client, codeHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[identity] = session{
		state:    StateCodeSent,
		codeHash: codeHash,
		client:   client,
	}
}

// SetAuthenticated promotes identity and erases any pending code hash.
// It returns false if identity was already authenticated on client.
func (s *SessionStore) SetAuthenticated(identity Identity, client Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.sessions[identity]
	s.sessions[identity] = session{
		state:  StateAuthenticated,
		client: client,
	}
	return prev.state != StateAuthenticated || prev.client != client
}

// ResetClient drops identity back to unauthenticated if its session still
// belongs to client. Returns whether anything changed.
func (s *SessionStore) ResetClient(identity Identity, client Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[identity]
	if !ok || sess.client != client {
		return false
	}
	delete(s.sessions, identity)
	return true
}

// Len returns the number of identities with a session.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
