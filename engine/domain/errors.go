package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Typed errors below match these with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnknownBank       = errors.New("unknown bank")
	ErrPassInProgress    = errors.New("classification pass in progress")
	ErrClassification    = errors.New("classification failed")
	ErrTransient         = errors.New("transient adapter error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidLabel      = errors.New("invalid label")
	ErrInvalidWindow     = errors.New("invalid window")
	ErrEmptyQuery        = errors.New("search query is required")
	ErrInvalidPage       = errors.New("page number must be 1 or greater")
	ErrOutOfRange        = errors.New("value out of range")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// NotFoundError reports a missing post, comment, run or action item.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound creates a NotFoundError.
func NotFound(kind, id string) *NotFoundError { return &NotFoundError{Kind: kind, ID: id} }

// UnknownBankError reports a bank id missing from the registry.
type UnknownBankError struct {
	BankID string
}

func (e *UnknownBankError) Error() string { return fmt.Sprintf("unknown bank %q", e.BankID) }

func (e *UnknownBankError) Is(target error) bool { return target == ErrUnknownBank }

// PassInProgressError rejects a second concurrent pass for the same bank.
type PassInProgressError struct {
	BankID string
	Since  time.Time
}

func (e *PassInProgressError) Error() string {
	return fmt.Sprintf("classification pass for %q already running since %s", e.BankID, e.Since.Format(time.RFC3339))
}

func (e *PassInProgressError) Is(target error) bool { return target == ErrPassInProgress }

// ClassificationFailure records a post that could not be classified. It is
// collected in pass reports and never aborts a batch.
type ClassificationFailure struct {
	PostID   string `json:"post_id"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts,omitempty"`
}

func (e *ClassificationFailure) Error() string {
	return fmt.Sprintf("classify post %q: %s", e.PostID, e.Reason)
}

func (e *ClassificationFailure) Is(target error) bool { return target == ErrClassification }

// TransientAdapterError marks a classifier failure worth retrying: timeouts,
// rate limits and upstream 5xx responses.
type TransientAdapterError struct {
	Op  string
	Err error
}

func (e *TransientAdapterError) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }

func (e *TransientAdapterError) Unwrap() error { return e.Err }

func (e *TransientAdapterError) Is(target error) bool { return target == ErrTransient }

// Transient wraps err as a TransientAdapterError.
func Transient(op string, err error) error {
	return &TransientAdapterError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
