// internal/state/session.go
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/chatagent/internal/types"
	"github.com/user/chatagent/pkg/llm"
)

// ErrSessionNotFound is returned for operations on an unknown session.
var ErrSessionNotFound = errors.New("session not found")

type session struct {
	history   []llm.Message
	createdAt time.Time
	updatedAt time.Time
}

// SessionStore is an in-memory history store keyed by session ID.
// Histories are copied on the way in and out so callers never alias stored
// state. Turn serialisation is provided separately through Lock.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[types.SessionID]*session
	locks    map[types.SessionID]*sync.Mutex
	now      func() time.Time
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[types.SessionID]*session),
		locks:    make(map[types.SessionID]*sync.Mutex),
		now:      time.Now,
	}
}

// GetOrCreate returns the history for id. An unknown id starts an empty
// session under that id; an empty id starts one under a fresh identifier.
func (s *SessionStore) GetOrCreate(_ context.Context, id types.SessionID) (types.SessionID, []llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && id != "" {
		return id, llm.CloneMessages(sess.history), nil
	}
	if id == "" {
		id = types.NewSessionID()
	}

	now := s.now()
	s.sessions[id] = &session{
		history:   []llm.Message{},
		createdAt: now,
		updatedAt: now,
	}
	return id, []llm.Message{}, nil
}

// Replace swaps the stored history of an existing session.
func (s *SessionStore) Replace(_ context.Context, id types.SessionID, history []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.history = llm.CloneMessages(history)
	if sess.history == nil {
		sess.history = []llm.Message{}
	}
	sess.updatedAt = s.now()
	return nil
}

// Get returns a copy of the history of an existing session.
func (s *SessionStore) Get(_ context.Context, id types.SessionID) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return llm.CloneMessages(sess.history), nil
}

// List returns all sessions, most recently updated first.
func (s *SessionStore) List(_ context.Context) ([]*types.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.SessionInfo, 0, len(s.sessions))
	for id, sess := range s.sessions {
		out = append(out, &types.SessionInfo{
			SessionID:    id,
			MessageCount: len(sess.history),
			CreatedAt:    sess.createdAt,
			UpdatedAt:    sess.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Len returns the number of sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Lock acquires the per-session turn lock for id and returns its release.
// Two turns on the same session never interleave their read-modify-replace
// of the history while each holds the lock.
func (s *SessionStore) Lock(id types.SessionID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
