// Package presence tracks which users the server currently reports online.
package presence

import (
	"sort"
	"sync"
)

// Store holds the latest full presence broadcast. It is only ever replaced
// wholesale.
type Store struct {
	mu  sync.RWMutex
	ids map[string]struct{}

	subMu  sync.Mutex
	nextID uint64
	subs   map[uint64]func()
}

func NewStore() *Store {
	return &Store{
		ids:  make(map[string]struct{}),
		subs: make(map[uint64]func()),
	}
}

func (s *Store) SetConnectedUserIDs(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}

	s.mu.Lock()
	s.ids = next
	s.mu.Unlock()
	s.notify()
}

func (s *Store) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[userID]
	return ok
}

// ConnectedUserIDs returns the online set, sorted.
func (s *Store) ConnectedUserIDs() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Store) Reset() {
	s.SetConnectedUserIDs(nil)
}

func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
