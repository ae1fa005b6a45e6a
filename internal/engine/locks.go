package engine

import (
	"slices"
	"sync"
)

// lockSet hands out one RWMutex per key. Entries are dropped when no goroutine holds
// or waits on them, so the map stays proportional to live contention.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.RWMutex
	refs int
}

func newLockSet() *lockSet {
	return &lockSet{locks: make(map[string]*keyLock)}
}

func (s *lockSet) acquire(key string) *keyLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	return l
}

func (s *lockSet) release(key string, l *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

// Lock takes the exclusive section for key and returns its release func.
func (s *lockSet) Lock(key string) func() {
	l := s.acquire(key)
	l.Lock()
	return func() {
		l.Unlock()
		s.release(key, l)
	}
}

// RLock takes the shared section for key.
func (s *lockSet) RLock(key string) func() {
	l := s.acquire(key)
	l.RLock()
	return func() {
		l.RUnlock()
		s.release(key, l)
	}
}

// LockAll locks every distinct key in sorted order, so two callers with overlapping
// key sets can never deadlock. Release happens in reverse order.
func (s *lockSet) LockAll(keys []string) func() {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, k := range sorted {
		unlocks = append(unlocks, s.Lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// size reports how many keys are currently tracked.
func (s *lockSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
