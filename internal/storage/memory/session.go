package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"soma-bot/internal/conversation"
)

type entry struct {
	data    []byte
	touched time.Time
}

// SessionStore keeps sessions in process memory. Values are stored encoded
// so that a loaded session never aliases one held by a caller.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]entry
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[int64]entry),
		now:      time.Now,
	}
}

func (s *SessionStore) Load(_ context.Context, userID int64) (conversation.Session, error) {
	const operation = "memory.Load"

	s.mu.Lock()
	e, ok := s.sessions[userID]
	s.mu.Unlock()

	var sess conversation.Session
	if !ok {
		return sess, nil
	}
	if err := json.Unmarshal(e.data, &sess); err != nil {
		return conversation.Session{}, fmt.Errorf("%s: unmarshal session: %w", operation, err)
	}
	return sess, nil
}

func (s *SessionStore) Save(_ context.Context, userID int64, sess conversation.Session) error {
	const operation = "memory.Save"

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%s: marshal session: %w", operation, err)
	}

	s.mu.Lock()
	s.sessions[userID] = entry{data: data, touched: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
	return nil
}

// Sweep drops sessions not saved within maxIdle and returns how many went.
func (s *SessionStore) Sweep(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		if e.touched.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
