// Package apperror defines the error taxonomy shared across the scribe engine.
package apperror

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or missing required input. Operations
// reject with it before any mutation takes place.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// NotFound builds a NotFoundError for the given entity reference.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ExternalError reports a failure or timeout talking to an external
// capability (transcription, language model, renderer, notification
// transport). The operation that hit it commits nothing and may be retried
// whole.
type ExternalError struct {
	Service string
	Err     error
	Timeout bool
}

func (e *ExternalError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timed out: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// External wraps err as an ExternalError attributed to service.
func External(service string, err error) error {
	return &ExternalError{Service: service, Err: err}
}

// ExternalTimeout wraps err as a timeout ExternalError.
func ExternalTimeout(service string, err error) error {
	return &ExternalError{Service: service, Err: err, Timeout: true}
}

// MalformedAIResponse is the ExternalError subtype for language-model output
// that contained no parseable JSON object after the internal retry. The raw
// output is preserved for diagnosis.
type MalformedAIResponse struct {
	ExternalError
	RawOutput string
}

func (e *MalformedAIResponse) Error() string {
	return fmt.Sprintf("%s: malformed model output: %v", e.Service, e.Err)
}

// MalformedAI builds a MalformedAIResponse carrying the raw model output.
func MalformedAI(service string, err error, raw string) error {
	return &MalformedAIResponse{
		ExternalError: ExternalError{Service: service, Err: err},
		RawOutput:     raw,
	}
}

// ConflictError reports a lost concurrency race, e.g. a second finalize on an
// already-finalized prescription. The first caller's result stands; the
// second caller gets this instead of a silent no-op.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// Conflict builds a ConflictError.
func Conflict(entity, id, reason string) error {
	return &ConflictError{Entity: entity, ID: id, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsExternal reports whether err is an ExternalError, including the
// MalformedAIResponse subtype.
func IsExternal(err error) bool {
	var x *ExternalError
	var m *MalformedAIResponse
	return errors.As(err, &x) || errors.As(err, &m)
}

// IsMalformedAI reports whether err is a MalformedAIResponse.
func IsMalformedAI(err error) bool {
	var m *MalformedAIResponse
	return errors.As(err, &m)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
