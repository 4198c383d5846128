// Package replay implements C12: a take-once handle binding an uploaded
// file to a replay socket. A ReplaySession is consumable exactly once —
// the first Take(id) consumes it, and every subsequent Take(id) for the
// same id reports not-found, matching a client reopening /ws/replay with a
// stale or already-used sessionId.
package replay

import (
	"sync"
	"time"
)

// Session binds a replay socket to a previously uploaded file.
type Session struct {
	SessionID string
	Providers []string
	FilePath  string
	ExpiresAt time.Time
}

// Store holds pending ReplaySessions in memory, keyed by SessionID.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// New creates an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]Session)}
}

// Put registers a new replay session, overwriting any existing session
// under the same id.
func (s *Store) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = sess
}

// Take consumes and returns the session for id. The second return value is
// false if id is unknown, already consumed, or expired — in every case the
// entry is removed so a retry observes the same "not found" outcome.
func (s *Store) Take(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(s.sessions, id)

	if !sess.ExpiresAt.IsZero() && time.Now().After(sess.ExpiresAt) {
		return Session{}, false
	}
	return sess, true
}

// PruneExpired removes sessions whose ExpiresAt has passed without ever
// being taken (a client that uploaded a file and never opened the replay
// socket).
func (s *Store) PruneExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.IsZero() && now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of sessions held in the store (not yet taken or
// pruned; an expired session counts until it is pruned), for observability.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
