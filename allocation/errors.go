/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Calling layers (HTTP, CLI) map these to their own status codes.

ERROR CATEGORIES:
  1. Validation errors - malformed input, surfaced to caller, never retried
  2. Not-found errors  - unknown lot/line/group/reservation, surfaced as-is
  3. State errors      - invalid reservation state transitions, fatal
  4. Commit errors     - re-validation failures, fatal to the transaction

USAGE:
  Callers match with errors.Is / errors.As:

    var ce *allocation.CommitError
    if errors.As(err, &ce) && ce.Code == allocation.CommitInsufficientStock {
        ...
    }

SEE ALSO:
  - lifecycle.go: Raises ReservationStateError
  - commit.go: Raises CommitError
*/
package allocation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all malformed-input errors.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is the root of all unknown-entity errors.
	ErrNotFound = errors.New("not found")

	// ErrReservationState is the root of invalid state transition errors.
	ErrReservationState = errors.New("invalid reservation state transition")

	// ErrCommit is the root of commit re-validation failures.
	ErrCommit = errors.New("commit failed")

	// ErrConcurrentModification is returned when the optimistic version
	// counter detects a stale read outside the locking path.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Message)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing entity kind and id.
type NotFoundError struct {
	Kind string // "lot", "reservation", "demand line", "demand group"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ReservationStateError reports an attempted invalid transition, naming
// source and target state. Fatal to the calling operation.
type ReservationStateError struct {
	ReservationID ReservationID
	From          ReservationStatus
	To            ReservationStatus
	Message       string
}

func (e *ReservationStateError) Error() string {
	msg := fmt.Sprintf("reservation %s: cannot transition %s -> %s", e.ReservationID, e.From, e.To)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ReservationStateError) Unwrap() error { return ErrReservationState }

// CommitCode classifies commit re-validation failures.
type CommitCode string

const (
	CommitInsufficientStock CommitCode = "INSUFFICIENT_STOCK"
	CommitLotNotActive      CommitCode = "LOT_NOT_ACTIVE"
	CommitAlreadyConfirmed  CommitCode = "ALREADY_CONFIRMED"
	CommitNotConfirmable    CommitCode = "PROVISIONAL_ALLOCATION_NOT_CONFIRMABLE"
)

// CommitError is fatal to the enclosing transaction, which rolls back
// completely. Not retried automatically: re-validation already happened
// immediately before the failure.
type CommitError struct {
	Code    CommitCode
	LotID   LotID
	LineID  DemandLineID
	Message string
}

func (e *CommitError) Error() string {
	msg := fmt.Sprintf("commit: %s", e.Code)
	if e.LotID != "" {
		msg += fmt.Sprintf(" (lot %s)", e.LotID)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *CommitError) Unwrap() error { return ErrCommit }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a state conflict the client can understand.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrReservationState) ||
		errors.Is(err, ErrCommit)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
