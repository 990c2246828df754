package credit

import (
	"context"
	"time"
)

// =============================================================================
// EXECUTOR - Remote compute provider
// =============================================================================

// Executor performs the arithmetic for an operation. Invoke never fails: a
// provider fault yields ProviderFailure as the result.
type Executor interface {
	Invoke(ctx context.Context, kind Kind, operand1 float64, operand2 *float64) string
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, kind Kind, operand1 float64, operand2 *float64) string

func (f ExecutorFunc) Invoke(ctx context.Context, kind Kind, operand1 float64, operand2 *float64) string {
	return f(ctx, kind, operand1, operand2)
}

// =============================================================================
// CACHE - Read-through memoization of ledger reads
// =============================================================================

// Cache memoizes encoded ledger reads per user and query shape.
//
// Invalidate must guarantee that no GetOrCompute that started before it
// returns can populate an entry later observed by a read starting after it.
//
// The engine invalidates after the write has committed, so an Invalidate
// error cannot undo the write: it is logged and the write is reported as
// successful. Entries written before the failure stay readable until their
// TTL expires, which is the upper bound on staleness in that case.
type Cache interface {
	GetOrCompute(ctx context.Context, userID UserID, shape string, compute func(context.Context) ([]byte, error)) ([]byte, error)
	Invalidate(ctx context.Context, userID UserID) error
}

// NopCache always computes.
type NopCache struct{}

func (NopCache) GetOrCompute(ctx context.Context, _ UserID, _ string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	return compute(ctx)
}

func (NopCache) Invalidate(context.Context, UserID) error { return nil }

// =============================================================================
// EVENTS - Notifications of completed writes
// =============================================================================

type EventType string

const (
	EventRecordCreated EventType = "record.created"
	EventRecordDeleted EventType = "record.deleted"
)

// Event describes a committed ledger write.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	UserID       UserID    `json:"user_id"`
	RecordID     int64     `json:"record_id"`
	Kind         Kind      `json:"kind"`
	Cost         int       `json:"cost"`
	BalanceAfter int       `json:"balance_after"`
	At           time.Time `json:"at"`
}

// Publisher delivers events after a write has committed. Delivery failures
// never undo the write.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
