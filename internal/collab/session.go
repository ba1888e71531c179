package collab

import (
	"fmt"
	"sync"
	"time"
)

// Session binds a protocol to a participant set for one collaboration round.
// A session may be created ahead of time or implicitly by Run; either way the
// orchestrator removes it on every execution exit path, success or failure.
type Session struct {
	ID           string
	Protocol     Protocol
	Initiator    string
	Participants []string
	StartedAt    time.Time
	Running      bool
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*Session)}
}

// create registers a session, rejecting an id that is already in flight so
// two rounds can never share bookkeeping.
func (s *sessionStore) create(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already active", sess.ID)
	}
	s.sessions[sess.ID] = sess
	return nil
}

// get returns a copy so callers never race the store's bookkeeping.
func (s *sessionStore) get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// markRunning claims a session for execution. It fails if the session is
// unknown or a round is already executing under this id.
func (s *sessionStore) markRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	if sess.Running {
		return fmt.Errorf("session %s is already executing", id)
	}
	sess.Running = true
	return nil
}

// end removes a session that has not started executing. The check and the
// delete share one critical section so a concurrent markRunning cannot slip
// between them.
func (s *sessionStore) end(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	if sess.Running {
		return fmt.Errorf("session %s is executing", id)
	}
	delete(s.sessions, id)
	return nil
}

func (s *sessionStore) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *sessionStore) list() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}
