package credit

import (
	"context"
	"sync"
)

// lockTable serializes writers per user. Entries are reference counted and
// dropped once nobody holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[UserID]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[UserID]*userLock)}
}

// acquire blocks until the user's lock is held or ctx is done.
// The returned func releases the lock and must be called exactly once.
func (t *lockTable) acquire(ctx context.Context, userID UserID) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[userID]
	if !ok {
		l = &userLock{sem: make(chan struct{}, 1)}
		t.locks[userID] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			t.unref(userID, l)
		}, nil
	case <-ctx.Done():
		t.unref(userID, l)
		return nil, ctx.Err()
	}
}

func (t *lockTable) unref(userID UserID, l *userLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, userID)
	}
}

// size reports the number of live entries.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
