package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/carelink/care-server/internal/database"
)

var (
	ErrInvalidState  = errors.New("invalid state")
	ErrAlreadyAgreed = errors.New("already agreed")
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("expired token")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrLocked        = errors.New("care log is signed and locked")
	ErrInvalidDate   = errors.New("date outside the case period")
)

// ValidationError is a client-correctable input problem.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotReadyError lists every unmet document requirement.
type NotReadyError struct {
	Missing []string
}

func (e *NotReadyError) Error() string {
	return "document requirements not met: " + strings.Join(e.Missing, ", ")
}

// DependencyError wraps a failure of storage, rendering or notification.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// storeErr maps a store failure to the service taxonomy. Missing rows become
// ErrNotFound; anything else is a dependency failure.
func storeErr(op string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return &DependencyError{Op: op, Err: err}
}

func stateErr(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
