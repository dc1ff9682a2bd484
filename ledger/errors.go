/*
errors.go - Error taxonomy for the point ledger

PURPOSE:
  All ledger errors in one place. Callers branch with errors.Is on the
  sentinels; structured errors carry details and unwrap to a sentinel.

ERROR CATEGORIES:
  1. Business rule errors - insufficient balance, invalid amount/event,
     daily login already applied, idempotency key reused for another event
  2. Store errors - storage unavailable, concurrent modification
  3. Integrity errors - a balance chain that does not add up

NOT AN ERROR:
  A repeated idempotency key for the same account and reason is a replay.
  The original result is returned with Replayed=true.

RETRIES:
  The ledger never retries on the caller's behalf. IsRetryable tells the
  caller it may retry, always with the SAME idempotency key.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a deduction exceeds the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for non-positive deduction or grant amounts.
	ErrInvalidAmount = errors.New("invalid amount: must be positive")

	// ErrInvalidEvent is returned when event fields fail validation.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrStorageUnavailable marks transient infrastructure failures.
	// Safe to retry with the same idempotency key.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrAlreadyAppliedToday is returned when a once-per-day event (daily
	// login) was already recorded for the account on that calendar day.
	ErrAlreadyAppliedToday = errors.New("already applied today")

	// ErrIdempotencyConflict is returned when a known idempotency key is
	// presented for a different account or a different kind of event.
	ErrIdempotencyConflict = errors.New("idempotency key already used for a different event")

	// ErrConcurrentModification is returned when an append was computed from a
	// stale balance. Nothing is written.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrIntegrityViolation is returned when a stored balance chain does not add up.
	ErrIntegrityViolation = errors.New("balance chain integrity violation")

	// ErrAccountRequired is returned when an operation is missing an account id.
	ErrAccountRequired = errors.New("account id is required")

	// ErrKeyRequired is returned when a write is missing an idempotency key.
	ErrKeyRequired = errors.New("idempotency key is required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// ValidationError names the event field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

// UnknownReasonError is returned when a reason string is not in the enum.
type UnknownReasonError struct {
	Value string
}

func (e *UnknownReasonError) Error() string {
	return fmt.Sprintf("invalid event: unknown reason %q", e.Value)
}

func (e *UnknownReasonError) Unwrap() error {
	return ErrInvalidEvent
}

// StorageError wraps an infrastructure failure. It matches both
// ErrStorageUnavailable and the underlying driver error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}

// Unavailable wraps err as a StorageError for op. Nil stays nil. Errors
// that already carry ledger meaning and context cancellation pass through
// unchanged, so every backend reports a canceled call the same way.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if isLedgerError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IntegrityError describes the first entry where the balance chain breaks.
type IntegrityError struct {
	AccountID AccountID
	EntryID   EntryID
	Seq       int64
	Expected  int64
	Actual    int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("balance chain broken for %s at entry %s (seq %d): expected balance_after %d, got %d",
		e.AccountID, e.EntryID, e.Seq, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityViolation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with the
// same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrAlreadyAppliedToday) ||
		errors.Is(err, ErrIdempotencyConflict) ||
		errors.Is(err, ErrAccountRequired) ||
		errors.Is(err, ErrKeyRequired)
}

// IsCanceled reports whether err comes from a canceled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isLedgerError(err error) bool {
	return IsClientError(err) ||
		IsCanceled(err) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrIntegrityViolation)
}
