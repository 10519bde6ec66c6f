// Package errors provides coded application errors for the approvals
// service. Error codes are part of the service contract: HTTP and event
// consumers dispatch on them, and several message substrings (notably
// "no assignment") are relied on by existing callers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an application error.
type Code string

const (
	// ErrCodeConfiguration indicates a missing or invalid workflow template.
	ErrCodeConfiguration Code = "configuration_error"
	// ErrCodeDuplicateWorkflow indicates a workflow is already in progress
	// for the target entity.
	ErrCodeDuplicateWorkflow Code = "duplicate_workflow"
	// ErrCodeNoActiveWorkflow indicates an action was attempted with no
	// in-progress workflow instance.
	ErrCodeNoActiveWorkflow Code = "no_active_workflow"
	// ErrCodeAlreadyDecided indicates an action was attempted on a terminal
	// workflow instance.
	ErrCodeAlreadyDecided Code = "already_decided"
	// ErrCodeUnauthorized indicates the acting user holds no assignment on
	// the active stage.
	ErrCodeUnauthorized Code = "unauthorized"
	// ErrCodeInvalidAction indicates an unknown or disallowed action kind.
	ErrCodeInvalidAction Code = "invalid_action"

	ErrCodeNotFound     Code = "not_found"
	ErrCodeConflict     Code = "conflict"
	ErrCodeInvalidInput Code = "invalid_input"
	ErrCodeInternal     Code = "internal"
)

// Error is a coded application error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two coded errors by code, so sentinel-style comparisons work
// with the standard errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !stderrors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates a cause with a code and message. Returns nil when err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the application code from an error chain.
// Unrecognized errors report ErrCodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// ── workflow taxonomy constructors ────────────────────────────────────────────

// Configuration reports a workflow configuration problem (no active
// template for the entity type, or a template with no stages).
func Configuration(message string) *Error {
	return New(ErrCodeConfiguration, message)
}

// DuplicateWorkflow reports that an in-progress workflow already exists for
// the entity.
func DuplicateWorkflow(entityType, entityID string) *Error {
	return Newf(ErrCodeDuplicateWorkflow,
		"workflow already in progress for %s %s", entityType, entityID)
}

// NoActiveWorkflow reports that no in-progress workflow exists for the entity.
func NoActiveWorkflow(entityType, entityID string) *Error {
	return Newf(ErrCodeNoActiveWorkflow,
		"no active workflow for %s %s", entityType, entityID)
}

// AlreadyDecided reports an action against a terminal workflow instance.
func AlreadyDecided(status string) *Error {
	return Newf(ErrCodeAlreadyDecided, "workflow already decided (status: %s)", status)
}

// Authorization reports a failed assignment check. The "no assignment"
// substring is part of the caller contract, do not reword.
func Authorization(userID string) *Error {
	return Newf(ErrCodeUnauthorized, "user %s has no assignment on the active stage", userID)
}

// InvalidAction reports an unknown or disallowed workflow action.
func InvalidAction(message string) *Error {
	return New(ErrCodeInvalidAction, message)
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %s not found", resource, id)
}

// InvalidInput reports a request validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeInvalidInput, "%s: %s", field, message)
}

// Is re-exports the standard errors.Is so callers importing this package in
// place of the standard library keep the full surface.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As re-exports the standard errors.As.
func As(err error, target any) bool { return stderrors.As(err, target) }
