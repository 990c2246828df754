/*
store.go - Persistence interfaces for records and users

APPEND-ONLY CONTRACT:
  Records are written once by AppendRecord. The only later mutation is
  Deactivate, which clears the Active flag (soft delete). There is no
  Update and no hard Delete.

COMPARE-AND-SWAP:
  AppendRecord takes the ID of the latest active record the caller computed
  the balance from. If another writer appended (or deactivated the latest
  record) in between, the append is rejected with ErrConcurrentModification.
  The engine also serializes writes per user in-process; the CAS keeps
  several processes sharing one database honest.

IMPLEMENTATIONS:
  - credit/store/memory.go:     In-memory, for tests and development
  - store/sqlstore/sqlstore.go: SQLite / PostgreSQL
*/
package credit

import "context"

// RecordStore persists operation records.
type RecordStore interface {
	// AppendRecord persists rec.Operation and rec, assigning both IDs.
	// expectedLatestID is the ID of the user's latest active record, 0 if none.
	AppendRecord(ctx context.Context, rec Record, expectedLatestID int64) (Record, error)

	// ActiveRecords returns every active record of the user, ordered by ID.
	ActiveRecords(ctx context.Context, userID UserID) ([]Record, error)

	// ActiveRecordsPage returns one page of the user's active records, ordered by ID.
	ActiveRecordsPage(ctx context.Context, userID UserID, req PageRequest) (Page, error)

	// ActiveRecord returns the active record with the given ID, or nil.
	ActiveRecord(ctx context.Context, id int64) (*Record, error)

	// Deactivate clears the active flag. Returns ErrRecordNotFound if the
	// record doesn't exist or is already inactive.
	Deactivate(ctx context.Context, id int64) error
}

// TxStore wraps RecordStore with transaction support.
type TxStore interface {
	RecordStore

	// WithTx executes fn within a transaction.
	// If fn returns error, nothing fn wrote is visible afterwards.
	WithTx(ctx context.Context, fn func(RecordStore) error) error
}

// UserStore persists users. Usernames are unique.
type UserStore interface {
	// CreateUser returns ErrUsernameTaken if the username exists.
	CreateUser(ctx context.Context, u User) error

	// UserByID returns nil if no such user.
	UserByID(ctx context.Context, id UserID) (*User, error)

	// UserByUsername returns nil if no such user.
	UserByUsername(ctx context.Context, username string) (*User, error)
}
