package memory

import "sync"

// ownerLocks hands out one mutex per owner. An entry lives only while someone holds or waits for it.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	sync.Mutex
	refs int
}

func (l *ownerLocks) lock(owner string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*ownerLock)
	}
	m, ok := l.locks[owner]
	if !ok {
		m = &ownerLock{}
		l.locks[owner] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, owner)
		}
		l.mu.Unlock()
	}
}

func (l *ownerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
