// Package store provides in-memory implementations of the credit stores.
package store

import (
	"context"
	"sync"

	"github.com/warp/credit-ledger/credit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements credit.TxStore and credit.UserStore.
type Memory struct {
	mu      sync.RWMutex
	records []credit.Record // ordered by ID
	byUser  map[credit.UserID][]int
	nextRec int64
	nextOp  int64

	users      map[credit.UserID]credit.User
	byUsername map[string]credit.UserID
}

var (
	_ credit.TxStore   = (*Memory)(nil)
	_ credit.UserStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		byUser:     make(map[credit.UserID][]int),
		users:      make(map[credit.UserID]credit.User),
		byUsername: make(map[string]credit.UserID),
	}
}

// AppendRecord appends a record. Append-only.
func (m *Memory) AppendRecord(_ context.Context, rec credit.Record, expectedLatestID int64) (credit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(rec, expectedLatestID)
}

func (m *Memory) appendLocked(rec credit.Record, expectedLatestID int64) (credit.Record, error) {
	if m.latestLocked(rec.UserID) != expectedLatestID {
		return credit.Record{}, credit.ErrConcurrentModification
	}
	m.nextOp++
	m.nextRec++
	rec.Operation.ID = m.nextOp
	rec.ID = m.nextRec
	rec.Active = true

	m.byUser[rec.UserID] = append(m.byUser[rec.UserID], len(m.records))
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *Memory) latestLocked(userID credit.UserID) int64 {
	idx := m.byUser[userID]
	for i := len(idx) - 1; i >= 0; i-- {
		if r := m.records[idx[i]]; r.Active {
			return r.ID
		}
	}
	return 0
}

func (m *Memory) ActiveRecords(_ context.Context, userID credit.UserID) ([]credit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked(userID), nil
}

func (m *Memory) activeLocked(userID credit.UserID) []credit.Record {
	var result []credit.Record
	for _, i := range m.byUser[userID] {
		if r := m.records[i]; r.Active {
			result = append(result, r)
		}
	}
	return result
}

func (m *Memory) ActiveRecordsPage(_ context.Context, userID credit.UserID, req credit.PageRequest) (credit.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req = req.Normalize()
	all := m.activeLocked(userID)
	return pageOf(all, req), nil
}

func pageOf(all []credit.Record, req credit.PageRequest) credit.Page {
	from := max(0, min(req.Offset(), len(all)))
	to := min(from+req.Size, len(all))
	return credit.NewPage(append([]credit.Record(nil), all[from:to]...), req, len(all))
}

func (m *Memory) ActiveRecord(_ context.Context, id int64) (*credit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeRecordLocked(id), nil
}

func (m *Memory) activeRecordLocked(id int64) *credit.Record {
	// IDs are dense and start at 1.
	if id < 1 || id > int64(len(m.records)) {
		return nil
	}
	r := m.records[id-1]
	if !r.Active {
		return nil
	}
	return &r
}

func (m *Memory) Deactivate(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked(id)
}

func (m *Memory) deactivateLocked(id int64) error {
	if m.activeRecordLocked(id) == nil {
		return credit.ErrRecordNotFound
	}
	m.records[id-1].Active = false
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(credit.RecordStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	records []credit.Record
	byUser  map[credit.UserID][]int
	nextRec int64
	nextOp  int64
}

func (m *Memory) snapshot() memorySnapshot {
	byUser := make(map[credit.UserID][]int, len(m.byUser))
	for k, v := range m.byUser {
		byUser[k] = append([]int(nil), v...)
	}
	return memorySnapshot{
		records: append([]credit.Record(nil), m.records...),
		byUser:  byUser,
		nextRec: m.nextRec,
		nextOp:  m.nextOp,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.records = s.records
	m.byUser = s.byUser
	m.nextRec = s.nextRec
	m.nextOp = s.nextOp
}

// txView operates on the parent while its lock is held by WithTx.
type txView struct {
	parent *Memory
}

func (tv *txView) AppendRecord(_ context.Context, rec credit.Record, expectedLatestID int64) (credit.Record, error) {
	return tv.parent.appendLocked(rec, expectedLatestID)
}

func (tv *txView) ActiveRecords(_ context.Context, userID credit.UserID) ([]credit.Record, error) {
	return tv.parent.activeLocked(userID), nil
}

func (tv *txView) ActiveRecordsPage(_ context.Context, userID credit.UserID, req credit.PageRequest) (credit.Page, error) {
	return pageOf(tv.parent.activeLocked(userID), req.Normalize()), nil
}

func (tv *txView) ActiveRecord(_ context.Context, id int64) (*credit.Record, error) {
	return tv.parent.activeRecordLocked(id), nil
}

func (tv *txView) Deactivate(_ context.Context, id int64) error {
	return tv.parent.deactivateLocked(id)
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u credit.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUsername[u.Username]; exists {
		return credit.ErrUsernameTaken
	}
	m.users[u.ID] = u
	m.byUsername[u.Username] = u.ID
	return nil
}

func (m *Memory) UserByID(_ context.Context, id credit.UserID) (*credit.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) UserByUsername(_ context.Context, username string) (*credit.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return nil, nil
	}
	u := m.users[id]
	return &u, nil
}
