/*
errors.go - Centralized error types for the credit engine

ERROR CATEGORIES:
  1. Validation errors - Malformed request (unknown kind). No state change.
  2. Operation errors  - Business rule violations (credits, division by zero,
                         negative square root). No state change, no charge.
  3. Store errors      - Persistence unavailable. Retriable; the write aborts.

  Provider failures are NOT errors: they are absorbed into the result payload
  (see ProviderFailure) and the operation is charged.

USAGE:
  res, err := engine.Execute(ctx, userID, req)
  switch {
  case credit.IsClientError(err):  // 400, no retry
  case credit.IsRetryable(err):    // 503, caller may retry
  }
*/
package credit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRequest is the sentinel behind every ValidationError.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrOperationRejected is the sentinel behind every OperationError.
	ErrOperationRejected = errors.New("operation rejected")

	// ErrStoreUnavailable marks a persistence failure. The write did not happen.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConcurrentModification is returned when a record append observes a
	// different latest record than the one the balance was computed from.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrRecordNotFound is returned when no active record has the given ID.
	ErrRecordNotFound = errors.New("record not found")

	// ErrActionNotAllowed is returned when a user touches another user's record.
	ErrActionNotAllowed = errors.New("action not allowed")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken is returned when registering a username that exists.
	ErrUsernameTaken = errors.New("username already exists")
)

// Messages surfaced verbatim to callers.
const (
	MsgInsufficientCredits = "Insufficient credits to execute this operation"
	MsgDivisionByZero      = "Is not possible execute division by zero"
	MsgNegativeSquareRoot  = "Operation error: Is not possible get the square root of a negative value"
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports a malformed request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// OperationError reports a well-formed request that cannot be executed.
type OperationError struct {
	Message string
	Kind    Kind
	Balance int
	Cost    int
}

func (e *OperationError) Error() string { return e.Message }

func (e *OperationError) Unwrap() error { return ErrOperationRejected }

// StoreError wraps a driver error as a retriable persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// NewStoreError wraps err unless it is nil or already a domain error.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrRecordNotFound) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrOperationRejected)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
