// Package errs defines the error taxonomy shared by the store, resolver,
// delegation engine and facade.
//
// NotFound, Validation and Dependency errors are deterministic and must never
// be retried. Conflict is surfaced to the caller, who re-reads and retries.
// Transient errors may be retried a small bounded number of times by the
// facade before surfacing.
package errs

import (
	"errors"
	"fmt"

	"github.com/go-ports/taskhive/internal/models"
)

// NotFoundError reports that a context (or an explicitly requested record)
// does not exist.
type NotFoundError struct {
	Level models.Level
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s context %q not found", e.Level, e.ID)
}

// ConflictError reports an optimistic version mismatch on update.
type ConflictError struct {
	Level    models.Level
	ID       string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s context %q version conflict: expected %d, current is %d (re-read and retry)",
		e.Level, e.ID, e.Expected, e.Actual)
}

// ValidationError reports a malformed request (missing field, unknown level,
// bad value).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DependencyError reports a broken ancestor chain: a required ancestor is
// missing during create or resolve. Remediation holds the exact call the
// caller should make first.
type DependencyError struct {
	MissingLevel models.Level
	MissingID    string
	Remediation  string
}

func (e *DependencyError) Error() string {
	msg := fmt.Sprintf("missing %s context %q in ancestor chain", e.MissingLevel, e.MissingID)
	if e.Remediation != "" {
		msg += ": " + e.Remediation
	}
	return msg
}

// TransientError wraps an underlying persistence I/O failure that may succeed
// on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Matching helpers
// ---------------------------------------------------------------------------

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var t *ConflictError
	return errors.As(err, &t)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var t *ValidationError
	return errors.As(err, &t)
}

// IsDependency reports whether err is (or wraps) a DependencyError.
func IsDependency(err error) bool {
	var t *DependencyError
	return errors.As(err, &t)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// Code returns the wire-level error code for err, used by the MCP and CLI
// surfaces: "not_found", "conflict", "validation_error", "dependency_error",
// "transient_store_error" or "internal".
func Code(err error) string {
	switch {
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	case IsValidation(err):
		return "validation_error"
	case IsDependency(err):
		return "dependency_error"
	case IsTransient(err):
		return "transient_store_error"
	default:
		return "internal"
	}
}
