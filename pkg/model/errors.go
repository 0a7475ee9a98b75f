package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for entity operations
var (
	// ErrNotLoaded is returned when reading a field or relation that was not fetched
	ErrNotLoaded = errors.New("field not loaded")

	// ErrDeleted is returned for any use of a deleted entity other than IsDeleted
	ErrDeleted = errors.New("deleted object")

	// ErrReadOnly is returned when mutating an entity marked read-only
	ErrReadOnly = errors.New("read-only object")

	// ErrUnknownField is returned for names that are neither fields nor relations
	ErrUnknownField = errors.New("unknown field")

	// ErrImmutableID is returned when attempting to change an identity
	ErrImmutableID = errors.New("identity is immutable")

	// ErrNotFound is returned when a lazy load finds no stored row.
	// Reads return nil instead of this error.
	ErrNotFound = errors.New("entity not found")
)

const genericInternalMessage = "an internal error occurred"

// ValidationError is a required-field or custom validate() rejection.
// No write happens when it is returned.
type ValidationError struct {
	Entity string
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed for %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("validation failed for %s: missing required fields [%s]", e.Entity, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// PublicMessage is safe to show to an end user
func (e *ValidationError) PublicMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// UniqueConstraintError is a translated unique-constraint violation
type UniqueConstraintError struct {
	Entity string
	Fields []string
	Err    error
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("unique constraint on %s, fields [%s]", e.Entity, strings.Join(e.Fields, ", "))
}

func (e *UniqueConstraintError) Unwrap() error {
	return e.Err
}

// PublicMessage hides the entity and cause behind a generic message
func (e *UniqueConstraintError) PublicMessage() string {
	field := "value"
	if len(e.Fields) > 0 {
		field = e.Fields[0]
	}
	return fmt.Sprintf("that %s is already in use", field)
}

// InternalError wraps an unclassified failure with the entity and operation
// for logging; its public message never reveals the cause
type InternalError struct {
	Entity string
	Op     string
	Err    error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// PublicMessage returns the generic internal-error message
func (e *InternalError) PublicMessage() string {
	return genericInternalMessage
}

// PublicMessage returns the caller-visible message for any engine error
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.PublicMessage()
	}
	var ue *UniqueConstraintError
	if errors.As(err, &ue) {
		return ue.PublicMessage()
	}
	switch {
	case errors.Is(err, ErrReadOnly):
		return "this record cannot be modified"
	case errors.Is(err, ErrDeleted):
		return "this record has been deleted"
	}
	return genericInternalMessage
}

// IsValidation checks if an error is a *ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUniqueConstraint checks if an error is a *UniqueConstraintError
func IsUniqueConstraint(err error) bool {
	var ue *UniqueConstraintError
	return errors.As(err, &ue)
}

// IsDeleted checks if an error is ErrDeleted
func IsDeleted(err error) bool {
	return errors.Is(err, ErrDeleted)
}

// IsReadOnly checks if an error is ErrReadOnly
func IsReadOnly(err error) bool {
	return errors.Is(err, ErrReadOnly)
}

// IsNotLoaded checks if an error is ErrNotLoaded
func IsNotLoaded(err error) bool {
	return errors.Is(err, ErrNotLoaded)
}
