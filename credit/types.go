/*
Package credit provides the credit ledger and operation execution engine.

PURPOSE:
  Users spend a consumable credit balance to run arithmetic operations whose
  computation is delegated to an external executor. This package owns the
  ledger of executed operations, the balance derived from it, and the
  "spend credits, perform operation" transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind:      An operation kind with a fixed credit cost
  - Operation: The definition (kind + cost) recorded with each execution
  - Record:    An append-only ledger entry; only Active may ever change
  - Stats:     The derived balance and operation count for a user

DESIGN PRINCIPLES:
  1. Balance is never stored: it is the BalanceAfter of the latest active record
  2. Records are append-only: corrections are soft deletes, never edits
  3. Ordering is by record ID (monotonic creation order), not by timestamp

SEE ALSO:
  - ledger.go: Balance fold over active records
  - engine.go: Execution engine
  - store.go:  Persistence interfaces
*/
package credit

import (
	"math"
	"strings"
	"time"
)

// InitialBalance is the balance of a user with no active records.
const InitialBalance = 200

// ProviderFailure is the result payload recorded when the executor could not
// produce a result. The operation is still charged.
const ProviderFailure = "Error: Could not invoke Lambda function."

// Page size bounds for history queries.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// =============================================================================
// OPERATION KINDS - Fixed cost table
// =============================================================================

type Kind string

const (
	Addition       Kind = "ADDITION"
	Subtraction    Kind = "SUBTRACTION"
	Multiplication Kind = "MULTIPLICATION"
	Division       Kind = "DIVISION"
	SquareRoot     Kind = "SQUARE_ROOT"
	RandomString   Kind = "RANDOM_STRING"
)

var costs = map[Kind]int{
	Addition:       1,
	Subtraction:    2,
	Multiplication: 3,
	Division:       4,
	SquareRoot:     5,
	RandomString:   6,
}

// Kinds returns every operation kind in catalog order.
func Kinds() []Kind {
	return []Kind{Addition, Subtraction, Multiplication, Division, SquareRoot, RandomString}
}

// ParseKind resolves a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := costs[k]; !ok {
		return "", &ValidationError{Message: "Unknown operation type: " + s}
	}
	return k, nil
}

// Cost returns the credit cost of the kind, or 0 for an unknown kind.
func (k Kind) Cost() int { return costs[k] }

func (k Kind) Valid() bool {
	_, ok := costs[k]
	return ok
}

func (k Kind) String() string { return string(k) }

// Binary reports whether the kind takes two operands.
func (k Kind) Binary() bool {
	switch k {
	case Addition, Subtraction, Multiplication, Division:
		return true
	}
	return false
}

// =============================================================================
// IDENTIFIERS AND USERS
// =============================================================================

type UserID string

type UserStatus string

const (
	StatusActive   UserStatus = "ACTIVE"
	StatusInactive UserStatus = "INACTIVE"
)

// User is the owner of records. Usernames are unique.
type User struct {
	ID           UserID
	Username     string
	PasswordHash string
	Status       UserStatus
	CreatedAt    time.Time
}

// =============================================================================
// RECORDS
// =============================================================================

// Operation is the definition charged for one execution.
type Operation struct {
	ID   int64
	Kind Kind
	Cost int
}

// Record is one executed operation and the balance it left behind.
type Record struct {
	ID           int64
	UserID       UserID
	Operation    Operation
	Result       string
	BalanceAfter int
	CreatedAt    time.Time
	Active       bool
}

// Stats is the ledger read model for a user.
type Stats struct {
	Balance        int `json:"balance"`
	OperationCount int `json:"operation_count"`
}

// =============================================================================
// PAGINATION
// =============================================================================

// PageRequest selects a zero-based page of history.
type PageRequest struct {
	Page int
	Size int
}

// Normalize clamps the request into valid bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	// Keep Page*Size representable.
	if last := math.MaxInt / p.Size; p.Page > last {
		p.Page = last
	}
	return p
}

// Offset is the number of records before the page. It saturates instead of
// overflowing.
func (p PageRequest) Offset() int {
	if p.Page <= 0 || p.Size <= 0 {
		return 0
	}
	if p.Page > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return p.Page * p.Size
}

// Page is one slice of a user's active records, oldest first.
type Page struct {
	Items      []Record `json:"items"`
	Page       int      `json:"page"`
	Size       int      `json:"size"`
	TotalItems int      `json:"total_items"`
	TotalPages int      `json:"total_pages"`
}

// NewPage builds page metadata around a slice of items.
func NewPage(items []Record, req PageRequest, total int) Page {
	pages := 0
	if req.Size > 0 {
		pages = (total + req.Size - 1) / req.Size
	}
	if items == nil {
		items = []Record{}
	}
	return Page{Items: items, Page: req.Page, Size: req.Size, TotalItems: total, TotalPages: pages}
}

// =============================================================================
// EXECUTION REQUEST / RESULT
// =============================================================================

// Request asks the engine to execute one operation. Operand2 is nil for
// unary operations.
type Request struct {
	Kind     string
	Operand1 float64
	Operand2 *float64
}

// Result is what the caller gets back from a successful execution.
type Result struct {
	Payload      string
	BalanceAfter int
	RecordID     int64
}
