// Package conversation keeps the small per-conversation state that
// survives between turns: the preferred language and the last query
// hint. State is scoped by (tenant, conversation), TTL-expirable, and
// last-write-wins under concurrent turns.
package conversation

import (
	"sync"
	"time"
)

// DefaultTTL is how long conversation state outlives its last write.
const DefaultTTL = 2 * time.Hour

// State is the bounded per-conversation record.
type State struct {
	Language      string
	LastQueryHint string
	UpdatedAt     time.Time
}

// Store is the in-process conversation state store.
type Store struct {
	mu      sync.RWMutex
	entries map[stateKey]State
	ttl     time.Duration

	now func() time.Time
}

type stateKey struct {
	tenantID       string
	conversationID string
}

// NewStore creates a store with the given TTL; non-positive means the
// default.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		entries: make(map[stateKey]State),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the live state for a conversation.
func (s *Store) Get(tenantID, conversationID string) (State, bool) {
	key := stateKey{tenantID, conversationID}
	s.mu.RLock()
	state, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	if s.now().Sub(state.UpdatedAt) > s.ttl {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return State{}, false
	}
	return state, true
}

// Put stores the state, replacing whatever was there. Concurrent
// writers race benignly; the last write wins.
func (s *Store) Put(tenantID, conversationID string, state State) {
	state.UpdatedAt = s.now()
	key := stateKey{tenantID, conversationID}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if s.now().Sub(e.UpdatedAt) > s.ttl {
			delete(s.entries, k)
		}
	}
	s.entries[key] = state
}

// Touch refreshes only selected fields, keeping the rest. Empty values
// leave the stored field unchanged.
func (s *Store) Touch(tenantID, conversationID, language, lastQueryHint string) {
	current, _ := s.Get(tenantID, conversationID)
	if language != "" {
		current.Language = language
	}
	if lastQueryHint != "" {
		current.LastQueryHint = lastQueryHint
	}
	s.Put(tenantID, conversationID, current)
}
