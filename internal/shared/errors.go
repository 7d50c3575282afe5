package shared

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAccessDenied indicates the caller's scope does not cover the record.
var ErrAccessDenied = errors.New("access denied")

// ErrDuplicate indicates a unique key collision.
var ErrDuplicate = errors.New("duplicate entry")

// ErrConflict indicates an invalid state transition.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates invalid input.
var ErrValidation = errors.New("validation failed")

// ErrInsufficientStock indicates a movement would drive stock negative.
var ErrInsufficientStock = errors.New("insufficient stock")

// ValidationError carries field-level detail. In bulk paths the row index
// is populated so callers can present line-level feedback.
type ValidationError struct {
	Field   string
	Message string
	Value   string
	Row     int
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a field-level validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AccessDeniedError reports a scope violation.
type AccessDeniedError struct {
	FranchiseID uuid.UUID
	Reason      string
}

func (e *AccessDeniedError) Error() string {
	if e.Reason == "" {
		return "access denied"
	}
	return fmt.Sprintf("access denied: %s", e.Reason)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// InsufficientStockError carries available vs requested quantities.
type InsufficientStockError struct {
	ProductID   uuid.UUID
	FranchiseID uuid.UUID
	Available   int64
	Requested   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// DuplicateKeyError reports a SKU or invoice collision.
type DuplicateKeyError struct {
	Entity string
	Key    string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate %s: %s", e.Entity, e.Key)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicate }

// NotFoundError reports a missing record by entity and id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports an invalid state transition.
type ConflictError struct {
	Entity  string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
