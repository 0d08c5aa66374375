package common

import (
	"sync"
)

// SessionLocks provides per-session mutual exclusion. At most one
// authentication attempt and at most one extraction iteration may be in
// flight per session at any time: concurrent authentication attempts against
// the same credential are themselves a strong anomaly signal to the remote
// platform.
type SessionLocks struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	holders map[string]string
}

// NewSessionLocks creates an empty lock registry.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{
		locks:   make(map[string]*sync.Mutex),
		holders: make(map[string]string),
	}
}

// Lock acquires the session's lock, blocking until available, and records the
// holder name for diagnostics.
func (s *SessionLocks) Lock(sessionID, holder string) {
	s.lockFor(sessionID).Lock()

	s.mu.Lock()
	s.holders[sessionID] = holder
	s.mu.Unlock()
}

// Unlock releases the session's lock.
func (s *SessionLocks) Unlock(sessionID string) {
	s.mu.Lock()
	delete(s.holders, sessionID)
	lock := s.locks[sessionID]
	s.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}

// Holder returns the name recorded by the current lock holder, or "" when the
// session is unlocked.
func (s *SessionLocks) Holder(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holders[sessionID]
}

func (s *SessionLocks) lockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}
