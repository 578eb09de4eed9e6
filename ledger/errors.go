/*
errors.go - Centralized error types for the ledger domain

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps them to status codes; nothing else needs to inspect
  error strings.

ERROR CATEGORIES:
  1. Validation errors - malformed or out-of-range input (400)
  2. Not-found errors - referenced entity absent (404)
  3. Conflict errors - entity state forbids the operation (409)
  4. Store errors - underlying storage failure (500)

USAGE:
  if errors.Is(err, ledger.ErrPaymentExceedsRemaining) {
      var ex *ledger.ExceedsRemainingError
      errors.As(err, &ex)
      // ex.Remaining is the balance before the rejected payment
  }

SEE ALSO:
  - service.go: Returns these errors
  - api/handlers.go: Maps them to HTTP responses
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the entity's state forbids the operation.
	ErrConflict = errors.New("conflict")

	// ErrPaymentExceedsRemaining is returned when a payment is larger than
	// the debt's remaining balance. It is also an ErrValidation.
	ErrPaymentExceedsRemaining = errors.New("payment exceeds remaining balance")

	// ErrConcurrentModification is returned by a store when a compare-and-set
	// on a debt row finds that another writer got there first.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStore marks failures of the underlying storage.
	ErrStore = errors.New("store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError explains which precondition the entity failed.
type ConflictError struct {
	Entity string
	ID     int64
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ExceedsRemainingError reports the balance a rejected payment was checked against.
type ExceedsRemainingError struct {
	DebtID    int64
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *ExceedsRemainingError) Error() string {
	return fmt.Sprintf("payment exceeds remaining balance: requested %s, remaining %s",
		FormatAmount(e.Requested), FormatAmount(e.Remaining))
}

func (e *ExceedsRemainingError) Unwrap() []error {
	return []error{ErrPaymentExceedsRemaining, ErrValidation}
}

// StoreError wraps a storage failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// wrapStore leaves domain errors untouched and marks everything else as a
// storage failure.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) || IsConflict(err) || IsRetryable(err) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the entity state forbade the operation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
