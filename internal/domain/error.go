package domain

import (
	"errors"
	"fmt"
)

// Application error codes.
// These classify failures so callers can branch on kind, not on message
// content.
const (
	ECONFLICT     = "conflict"        // duplicate resource or idempotency collision
	EINTERNAL     = "internal"        // unexpected failure (hide details)
	EINVALID      = "invalid"         // validation error (bad input)
	ENOTFOUND     = "not_found"       // resource not found
	EUNAUTHORIZED = "unauthorized"    // bad or missing credentials/signature
	ELOCKED       = "locked"          // post-send lock violation
	EUNAVAILABLE  = "unavailable"     // transient provider failure (network/5xx)
	ENOTIMPL      = "not_implemented" // provider disabled or not wired
)

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, ELOCKED).
	Code string

	// Message is a human-readable error message safe to show to users.
	Message string

	// Op is the operation where the error occurred (e.g., "invoice.send").
	// Used for debugging and logging, not shown to users.
	Op string

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for nil or non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return EINTERNAL
}

// ErrorMessage extracts a user-facing message from an error.
// For internal errors, returns a generic message to avoid leaking details.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}

	return "An internal error occurred. Please try again later."
}

// Errorf creates a new domain error with formatted message.
// Example: domain.Errorf(domain.EINVALID, "invoice.draft", "unknown provider: %s", p)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a domain error code and operation.
// Preserves the underlying error for logging while providing structure.
// Returns nil if err is nil.
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// =============================================================================
// Canonical failure messages
// =============================================================================
//
// These are the user-visible strings the caller-facing boundary surfaces;
// handlers must not rephrase them.

// NotConnected is returned when a provider is disabled for the deployment
// or the tenant has no credentials for it.
func NotConnected(op string, p Provider) error {
	return &Error{
		Code:    ENOTIMPL,
		Op:      op,
		Message: "provider not connected",
		Err:     fmt.Errorf("provider %s", p),
	}
}

// Locked is returned for any mutation attempt against a sent, legacy or
// otherwise locked invoice. A normal error outcome, not a defect.
func Locked(op string) error {
	return &Error{
		Code:    ELOCKED,
		Op:      op,
		Message: "invoice already sent — provider is now authoritative",
	}
}

// SendFailed wraps a provider failure during the synchronous send path,
// preserving the provider's raw message for the caller.
func SendFailed(op string, err error) error {
	return &Error{
		Code:    EUNAVAILABLE,
		Op:      op,
		Message: fmt.Sprintf("send failed: %s", rawMessage(err)),
		Err:     err,
	}
}

// rawMessage prefers the provider's own payload over wrapper text.
func rawMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("invoice.get", "invoice", id.String())
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

// Invalid creates a validation error for a single issue.
func Invalid(op, message string) error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error (wraps underlying error).
// The message shown to users will be generic; the underlying error is for
// logging.
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
