/*
Package sqlstore provides a database/sql implementation of the credit stores.

PURPOSE:
  Implements credit.TxStore and credit.UserStore on SQLite (mattn/go-sqlite3)
  or PostgreSQL (lib/pq). Queries are written once with '?' placeholders and
  rebound for PostgreSQL.

INTERFACES IMPLEMENTED:
  credit.RecordStore: Operation records (append-only, soft delete)
  credit.TxStore:     Atomic multi-statement writes
  credit.UserStore:   Users with unique usernames

KEY TABLES:
  users:      Registered users
  operations: One definition (kind + cost) per execution
  records:    Append-only ledger; only `active` is ever updated

CONCURRENCY:
  AppendRecord checks the user's latest active record inside the write
  transaction (compare-and-swap). SQLite transactions are opened IMMEDIATE so
  writers serialize on the database lock; PostgreSQL takes a transaction-scoped
  advisory lock on the user before the check.

USAGE:
  store, err := sqlstore.New("sqlite3", "./data/credit.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - credit/store.go:        Interface definitions
  - credit/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/credit-ledger/credit"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store implements all storage interfaces on database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
}

var (
	_ credit.TxStore   = (*Store)(nil)
	_ credit.UserStore = (*Store)(nil)
)

// New opens the database and migrates the schema.
// For SQLite, use ":memory:" for an in-memory database.
func New(driver, dsn string) (*Store, error) {
	var d dialect
	switch driver {
	case DriverSQLite, "sqlite", "":
		driver, d = DriverSQLite, sqliteDialect{}
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
		}
	case DriverPostgres, "pgx":
		driver, d = DriverPostgres, postgresDialect{}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection: keeps ":memory:" databases shared and writers serialized.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, dialect: d}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// DIALECTS
// =============================================================================

type dialect interface {
	schema() []string
	rebind(query string) string
	lockUser(ctx context.Context, q querier, userID credit.UserID) error
	isUniqueViolation(err error) bool
}

type sqliteDialect struct{}

func (sqliteDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS operations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			cost INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL REFERENCES users(id),
			operation_id INTEGER NOT NULL REFERENCES operations(id),
			result TEXT NOT NULL,
			balance_after INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_user_active ON records(user_id, active, id)`,
	}
}

func (sqliteDialect) rebind(query string) string { return query }

// Transactions are BEGIN IMMEDIATE (_txlock), so the writer already holds
// the database lock.
func (sqliteDialect) lockUser(context.Context, querier, credit.UserID) error { return nil }

func (sqliteDialect) isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

type postgresDialect struct{}

func (postgresDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS operations (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			cost INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			operation_id BIGINT NOT NULL REFERENCES operations(id),
			result TEXT NOT NULL,
			balance_after INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_user_active ON records(user_id, active, id)`,
	}
}

func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (postgresDialect) lockUser(ctx context.Context, q querier, userID credit.UserID) error {
	_, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(userID))
	return err
}

func (postgresDialect) isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// RECORD STORE (credit.RecordStore interface)
// =============================================================================

const recordColumns = `r.id, r.user_id, o.id, o.kind, o.cost, r.result, r.balance_after, r.created_at, r.active`

const recordFrom = ` FROM records r JOIN operations o ON o.id = r.operation_id`

// AppendRecord persists the operation definition and the record atomically.
func (s *Store) AppendRecord(ctx context.Context, rec credit.Record, expectedLatestID int64) (credit.Record, error) {
	var saved credit.Record
	err := s.WithTx(ctx, func(tx credit.RecordStore) error {
		var err error
		saved, err = tx.AppendRecord(ctx, rec, expectedLatestID)
		return err
	})
	return saved, err
}

func (s *Store) appendRecord(ctx context.Context, q querier, rec credit.Record, expectedLatestID int64) (credit.Record, error) {
	if err := s.dialect.lockUser(ctx, q, rec.UserID); err != nil {
		return credit.Record{}, fmt.Errorf("failed to lock user: %w", err)
	}

	var latest int64
	err := q.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT COALESCE(MAX(id), 0) FROM records WHERE user_id = ? AND active = ?`),
		string(rec.UserID), true,
	).Scan(&latest)
	if err != nil {
		return credit.Record{}, fmt.Errorf("failed to read latest record: %w", err)
	}
	if latest != expectedLatestID {
		return credit.Record{}, credit.ErrConcurrentModification
	}

	err = q.QueryRowContext(ctx, s.dialect.rebind(
		`INSERT INTO operations (kind, cost) VALUES (?, ?) RETURNING id`),
		string(rec.Operation.Kind), rec.Operation.Cost,
	).Scan(&rec.Operation.ID)
	if err != nil {
		return credit.Record{}, fmt.Errorf("failed to insert operation: %w", err)
	}

	rec.Active = true
	err = q.QueryRowContext(ctx, s.dialect.rebind(
		`INSERT INTO records (user_id, operation_id, result, balance_after, created_at, active)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		string(rec.UserID), rec.Operation.ID, rec.Result, rec.BalanceAfter,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), true,
	).Scan(&rec.ID)
	if err != nil {
		return credit.Record{}, fmt.Errorf("failed to insert record: %w", err)
	}
	return rec, nil
}

// ActiveRecords returns all active records for a user.
func (s *Store) ActiveRecords(ctx context.Context, userID credit.UserID) ([]credit.Record, error) {
	return s.activeRecords(ctx, s.db, userID)
}

func (s *Store) activeRecords(ctx context.Context, q querier, userID credit.UserID) ([]credit.Record, error) {
	query := `SELECT ` + recordColumns + recordFrom + `
		WHERE r.user_id = ? AND r.active = ?
		ORDER BY r.id ASC`
	return s.queryRecords(ctx, q, query, string(userID), true)
}

// ActiveRecordsPage returns one page of active records for a user.
func (s *Store) ActiveRecordsPage(ctx context.Context, userID credit.UserID, req credit.PageRequest) (credit.Page, error) {
	return s.activeRecordsPage(ctx, s.db, userID, req)
}

func (s *Store) activeRecordsPage(ctx context.Context, q querier, userID credit.UserID, req credit.PageRequest) (credit.Page, error) {
	req = req.Normalize()

	var total int
	err := q.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT COUNT(*) FROM records WHERE user_id = ? AND active = ?`),
		string(userID), true,
	).Scan(&total)
	if err != nil {
		return credit.Page{}, fmt.Errorf("failed to count records: %w", err)
	}

	query := `SELECT ` + recordColumns + recordFrom + `
		WHERE r.user_id = ? AND r.active = ?
		ORDER BY r.id ASC
		LIMIT ? OFFSET ?`
	items, err := s.queryRecords(ctx, q, query, string(userID), true, req.Size, req.Offset())
	if err != nil {
		return credit.Page{}, err
	}
	return credit.NewPage(items, req, total), nil
}

// ActiveRecord returns an active record by ID, or nil.
func (s *Store) ActiveRecord(ctx context.Context, id int64) (*credit.Record, error) {
	return s.activeRecord(ctx, s.db, id)
}

func (s *Store) activeRecord(ctx context.Context, q querier, id int64) (*credit.Record, error) {
	query := `SELECT ` + recordColumns + recordFrom + ` WHERE r.id = ? AND r.active = ?`
	records, err := s.queryRecords(ctx, q, query, id, true)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Deactivate soft-deletes a record. This is the only UPDATE on records.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	return s.deactivate(ctx, s.db, id)
}

func (s *Store) deactivate(ctx context.Context, q querier, id int64) error {
	res, err := q.ExecContext(ctx, s.dialect.rebind(
		`UPDATE records SET active = ? WHERE id = ? AND active = ?`),
		false, id, true,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credit.ErrRecordNotFound
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, q querier, query string, args ...any) ([]credit.Record, error) {
	rows, err := q.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []credit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (credit.Record, error) {
	var (
		rec       credit.Record
		userID    string
		kind      string
		createdAt string
	)
	err := rows.Scan(
		&rec.ID, &userID, &rec.Operation.ID, &kind, &rec.Operation.Cost,
		&rec.Result, &rec.BalanceAfter, &createdAt, &rec.Active,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.UserID = credit.UserID(userID)
	rec.Operation.Kind = credit.Kind(kind)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return rec, nil
}

// =============================================================================
// TRANSACTIONAL STORE (credit.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(credit.RecordStore) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every call through the open transaction.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) AppendRecord(ctx context.Context, rec credit.Record, expectedLatestID int64) (credit.Record, error) {
	return ts.parent.appendRecord(ctx, ts.tx, rec, expectedLatestID)
}

func (ts *txStore) ActiveRecords(ctx context.Context, userID credit.UserID) ([]credit.Record, error) {
	return ts.parent.activeRecords(ctx, ts.tx, userID)
}

func (ts *txStore) ActiveRecordsPage(ctx context.Context, userID credit.UserID, req credit.PageRequest) (credit.Page, error) {
	return ts.parent.activeRecordsPage(ctx, ts.tx, userID, req)
}

func (ts *txStore) ActiveRecord(ctx context.Context, id int64) (*credit.Record, error) {
	return ts.parent.activeRecord(ctx, ts.tx, id)
}

func (ts *txStore) Deactivate(ctx context.Context, id int64) error {
	return ts.parent.deactivate(ctx, ts.tx, id)
}

// =============================================================================
// USER STORE (credit.UserStore interface)
// =============================================================================

// CreateUser inserts a user. Username uniqueness is enforced by the schema.
func (s *Store) CreateUser(ctx context.Context, u credit.User) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO users (id, username, password_hash, status, created_at) VALUES (?, ?, ?, ?, ?)`),
		string(u.ID), u.Username, u.PasswordHash, string(u.Status),
		u.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return credit.ErrUsernameTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByID returns a user by ID, or nil.
func (s *Store) UserByID(ctx context.Context, id credit.UserID) (*credit.User, error) {
	return s.queryUser(ctx, `SELECT id, username, password_hash, status, created_at FROM users WHERE id = ?`, string(id))
}

// UserByUsername returns a user by username, or nil.
func (s *Store) UserByUsername(ctx context.Context, username string) (*credit.User, error) {
	return s.queryUser(ctx, `SELECT id, username, password_hash, status, created_at FROM users WHERE username = ?`, username)
}

func (s *Store) queryUser(ctx context.Context, query string, arg string) (*credit.User, error) {
	var (
		u         credit.User
		id        string
		status    string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), arg).
		Scan(&id, &u.Username, &u.PasswordHash, &status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.ID = credit.UserID(id)
	u.Status = credit.UserStatus(status)
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &u, nil
}
