// Package session keeps in-progress creation dialogues keyed by user id.
package session

import (
	"sync"

	"tomorrowbot/dialog"
)

// Store holds at most one dialogue state per user. All access is atomic;
// states are copied in and out so callers never share mutable memory.
// Starting a new dialogue for a user overwrites any unfinished one.
type Store struct {
	mu     sync.RWMutex
	states map[int64]dialog.State
}

func NewStore() *Store {
	return &Store{states: make(map[int64]dialog.State)}
}

// Get returns the user's dialogue state, if any.
func (s *Store) Get(userID int64) (dialog.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[userID]
	return st, ok
}

// Put stores the user's dialogue state, replacing any existing one.
func (s *Store) Put(userID int64, st dialog.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[userID] = st
}

// Clear removes the user's dialogue state and reports whether one existed.
func (s *Store) Clear(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[userID]
	delete(s.states, userID)
	return ok
}

// Replace swaps old for next only while old is still the current state.
// A false return means a concurrently handled action advanced or cleared
// the dialogue first; the caller's transition loses and must be dropped.
func (s *Store) Replace(userID int64, old, next dialog.State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[userID]
	if !ok || current != old {
		return false
	}
	s.states[userID] = next
	return true
}

// TakeIf removes the state only while it still equals expected, claiming
// the final transition for exactly one caller.
func (s *Store) TakeIf(userID int64, expected dialog.State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[userID]
	if !ok || current != expected {
		return false
	}
	delete(s.states, userID)
	return true
}
