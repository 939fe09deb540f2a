package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrAlreadyClaimed      = errors.New("already claimed")
	ErrNotReady            = errors.New("not ready to claim")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrIdempotencyConflict = errors.New("idempotency conflict")
	ErrMemberExists        = errors.New("member exists")
	ErrValidation          = errors.New("validation error")
	ErrStorage             = errors.New("storage error")

	// ErrAlreadyWithdrawnToday is returned when the once-per-day withdrawal
	// policy is on and the member already has a live request for the day.
	ErrAlreadyWithdrawnToday = errors.New("already withdrawn today")
)

// ValidationError reports malformed input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps an unexpected failure of the backing store. It matches
// ErrStorage and unwraps to the driver error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Storage wraps err as a StorageError unless it is nil or already a domain
// error, which passes through untouched.
func Storage(op string, err error) error {
	if err == nil || IsDomain(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsDomain reports whether err is one of the ledger's domain failures.
func IsDomain(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrNotReady),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrIdempotencyConflict),
		errors.Is(err, ErrAlreadyWithdrawnToday),
		errors.Is(err, ErrMemberExists),
		errors.Is(err, ErrValidation):
		return true
	}
	return false
}
