package workflow

import "sync"

// vinLocker serializes work per VIN. Entries are reference counted and
// removed once no goroutine holds or waits for them.
type vinLocker struct {
	mu    sync.Mutex
	locks map[string]*vinLock
}

type vinLock struct {
	mu   sync.Mutex
	refs int
}

func newVINLocker() *vinLocker {
	return &vinLocker{locks: make(map[string]*vinLock)}
}

// Lock blocks until vin is free and returns the matching unlock function.
func (l *vinLocker) Lock(vin string) (unlock func()) {
	l.mu.Lock()
	lk, ok := l.locks[vin]
	if !ok {
		lk = &vinLock{}
		l.locks[vin] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, vin)
		}
		l.mu.Unlock()
	}
}

// size returns the number of live entries.
func (l *vinLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
