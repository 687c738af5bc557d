package types

import (
	"errors"
	"fmt"
)

// ValidationError rejects a malformed request before the authorization
// gate is ever consulted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AuthorizationDenied signals that the user or policy refused a
// scenario. The instance terminates as Denied.
var ErrAuthorizationDenied = errors.New("authorization denied")

// PrivilegeError signals that no escalation strategy produced a grant.
// Non-retriable; the instance terminates as Denied.
type PrivilegeError struct {
	Strategy string
	Err      error
}

func (e *PrivilegeError) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("privilege escalation failed: %v", e.Err)
	}
	return fmt.Sprintf("privilege escalation via %s failed: %v", e.Strategy, e.Err)
}

func (e *PrivilegeError) Unwrap() error { return e.Err }

// ToolUnavailable signals a missing external executable, detected
// before any privilege is acquired.
type ToolUnavailable struct {
	Binary string
}

func (e *ToolUnavailable) Error() string {
	return fmt.Sprintf("required tool not found: %s", e.Binary)
}

// ErrUnknownInstance is returned for status/await calls on an id the
// runner has never seen.
var ErrUnknownInstance = errors.New("unknown scenario instance")

// ErrAwaitTimeout is returned by AwaitTerminal when the caller-side
// timeout elapses before the instance reaches a terminal state.
var ErrAwaitTimeout = errors.New("await timeout elapsed before terminal state")
