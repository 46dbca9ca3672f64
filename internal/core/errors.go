package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document id does not resolve
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a write carries a stale revision
	ErrConflict = errors.New("revision conflict")

	// ErrAlreadyExists is returned by create when the id is taken
	ErrAlreadyExists = errors.New("document already exists")
)

// TransientError is a network, timeout, 5xx or 429 failure. It is retried.
type TransientError struct {
	Op         string
	StatusCode int           // 0 when no response was received
	RetryAfter time.Duration // server hint from a Retry-After header
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient store error (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient store error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError is a malformed document or a rejected request. Never retried.
type ValidationError struct {
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.ID, e.Reason)
}

// ReferenceBlockedError marks a destructive operation that still has inbound references
type ReferenceBlockedError struct {
	ID string
	By []string
}

func (e *ReferenceBlockedError) Error() string {
	return fmt.Sprintf("%s is referenced by %d document(s): %s", e.ID, len(e.By), strings.Join(e.By, ", "))
}

// DanglingReferenceError marks an operation that would reference missing documents
type DanglingReferenceError struct {
	ID      string
	Targets []string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s would reference missing document(s): %s", e.ID, strings.Join(e.Targets, ", "))
}

// ConfigurationError aborts a run before any mutation
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

// UnavailableError means the store could not be reached at all
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("content store unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsInfrastructure reports whether err should abort a whole run rather than one item
func IsInfrastructure(err error) bool {
	var u *UnavailableError
	if errors.As(err, &u) {
		return true
	}
	var c *ConfigurationError
	return errors.As(err, &c)
}
