package ledger

import "sync"

// SceneLocks serializes work per scene. Entries are reference counted and
// dropped as soon as no goroutine holds or waits on them, so idle scenes do not
// accumulate.
type SceneLocks struct {
	mu    sync.Mutex
	locks map[string]*sceneLock
}

type sceneLock struct {
	mu   sync.Mutex
	refs int
}

func NewSceneLocks() *SceneLocks {
	return &SceneLocks{locks: make(map[string]*sceneLock)}
}

// Lock blocks until the caller owns the scene and returns the release func.
func (s *SceneLocks) Lock(key string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sceneLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Do runs fn while holding the scene lock.
func (s *SceneLocks) Do(key string, fn func() error) error {
	unlock := s.Lock(key)
	defer unlock()
	return fn()
}

// Len reports how many scenes currently have a lock entry.
func (s *SceneLocks) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
