package billing

import (
	"sync"

	"github.com/google/uuid"
)

// orgLocks serializes billing writes per organization. Entries are
// reference-counted so the map does not grow with every organization ever
// touched.
type orgLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*orgLock
}

type orgLock struct {
	mu   sync.Mutex
	refs int
}

func newOrgLocks() *orgLocks {
	return &orgLocks{locks: make(map[uuid.UUID]*orgLock)}
}

func (l *orgLocks) lock(id uuid.UUID) {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &orgLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *orgLocks) unlock(id uuid.UUID) {
	l.mu.Lock()
	entry := l.locks[id]
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
