package lifecycle

import (
	"sync"

	"github.com/hackrange/hackrange/backend/services/types"
)

// LockMap serializes transitions per instance. The reconciler waits on the
// same locks, so reconciliation never observes a half-applied transition.
type LockMap struct {
	mu    sync.Mutex
	locks map[types.InstanceID]*sync.Mutex
}

// NewLockMap returns an empty lock map.
func NewLockMap() *LockMap {
	return &LockMap{locks: map[types.InstanceID]*sync.Mutex{}}
}

// Lock acquires the lock for an instance and returns the matching unlock.
// Locks are never removed from the map: the set of live instances is small
// and a stale entry is just a free mutex.
func (l *LockMap) Lock(id types.InstanceID) func() {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
