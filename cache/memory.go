/*
Package cache provides read-through caches for ledger reads.

PURPOSE:
  Implements credit.Cache. Entries are keyed by (user, query shape) and are
  dropped for a single user whenever that user's ledger changes.

STALE REPOPULATION:
  A read that misses, computes from the store, and then stores its value can
  race with a write that invalidates in between. Both implementations tag each
  user with a generation that Invalidate bumps. A computed value is only kept
  under the generation that was current when the read started, so a value
  computed before an invalidation is never served after it.

IMPLEMENTATIONS:
  Memory: In-process map with TTL, swept by Janitor
  Redis:  Shared across processes (redis/go-redis v9)

SEE ALSO:
  - credit/ports.go: Cache interface
  - janitor.go:      Background sweep of expired memory entries
*/
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/credit-ledger/credit"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds how long an entry is served without invalidation.
const DefaultTTL = 5 * time.Minute

type entry struct {
	data    []byte
	gen     uint64
	expires time.Time
}

// Memory is an in-process credit.Cache.
type Memory struct {
	mu       sync.Mutex
	gens     map[credit.UserID]uint64
	inflight map[credit.UserID]int
	entries  map[credit.UserID]map[string]entry

	group singleflight.Group
	ttl   time.Duration
	now   func() time.Time
}

var _ credit.Cache = (*Memory)(nil)

// NewMemory creates a memory cache. A non-positive ttl uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		gens:     make(map[credit.UserID]uint64),
		inflight: make(map[credit.UserID]int),
		entries:  make(map[credit.UserID]map[string]entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// GetOrCompute returns the cached value or computes and stores it.
// Concurrent misses for the same key share one computation.
func (m *Memory) GetOrCompute(ctx context.Context, userID credit.UserID, shape string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	m.mu.Lock()
	gen := m.gens[userID]
	if e, ok := m.entries[userID][shape]; ok && e.gen == gen && m.now().Before(e.expires) {
		m.mu.Unlock()
		return e.data, nil
	}
	m.inflight[userID]++
	m.mu.Unlock()
	defer m.settle(userID)

	key := fmt.Sprintf("%s|%d|%s", userID, gen, shape)
	v, err, _ := m.group.Do(key, func() (any, error) {
		data, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		m.store(userID, gen, shape, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (m *Memory) store(userID credit.UserID, gen uint64, shape string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gens[userID] != gen {
		// Invalidated while computing.
		return
	}
	shapes, ok := m.entries[userID]
	if !ok {
		shapes = make(map[string]entry)
		m.entries[userID] = shapes
	}
	shapes[shape] = entry{data: data, gen: gen, expires: m.now().Add(m.ttl)}
}

func (m *Memory) settle(userID credit.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight[userID]--; m.inflight[userID] <= 0 {
		delete(m.inflight, userID)
	}
}

// Invalidate drops every entry for the user.
func (m *Memory) Invalidate(_ context.Context, userID credit.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gens[userID]++
	delete(m.entries, userID)
	return nil
}

// Sweep removes expired entries and returns how many were removed.
// It also forgets the generation of every user with no entries and no read
// in flight; a compute tagged with a forgotten generation could otherwise
// store again.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for userID, shapes := range m.entries {
		for shape, e := range shapes {
			if !now.Before(e.expires) {
				delete(shapes, shape)
				removed++
			}
		}
		if len(shapes) == 0 {
			delete(m.entries, userID)
		}
	}
	for userID := range m.gens {
		if _, live := m.entries[userID]; !live && m.inflight[userID] == 0 {
			delete(m.gens, userID)
		}
	}
	return removed
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, shapes := range m.entries {
		n += len(shapes)
	}
	return n
}
