package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors
	// (e.g., ErrOperationNotFound, ErrItemNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrClaimLost is returned when a conditional claim update affected
	// zero rows because another worker won the race. It is not a failure:
	// callers skip the candidate and try the next one.
	ErrClaimLost = errors.New("claim lost to another worker")

	// ErrLockNotHeld indicates serial work was attempted without holding
	// the serial lock. This is a programmer error; the serial processor
	// treats it as fatal to the current run rather than retrying.
	ErrLockNotHeld = errors.New("serial lock not held")

	// ErrUnknownOperation is returned when the registry has no
	// implementation for a claimed operation's name. Fatal to that single
	// operation, never to the processor loop.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update operation fails, for example
	// because the entity does not exist or the update violates constraints.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrOperationNotFound indicates that the requested operation does not
	// exist in the store.
	ErrOperationNotFound = fmt.Errorf("%w: operation", ErrNotFound)

	// ErrItemNotFound indicates that the requested item does not exist in
	// the store.
	ErrItemNotFound = fmt.Errorf("%w: item", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClaimLost checks if the error reports a lost claim race. Processors
// use this to distinguish "skip and keep going" from real failures.
func IsClaimLost(err error) bool {
	return errors.Is(err, ErrClaimLost)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "operation", "item")
	Operation string // The store operation that failed (e.g., "claim", "save")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation,
// message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
