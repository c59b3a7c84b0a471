package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with a stable machine-readable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	// Retryable marks concurrency conflicts the caller may retry.
	Retryable bool  `json:"retryable,omitempty"`
	Err       error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors covering the core's validation, access, expansion and
// concurrency taxonomy.
var (
	ErrDuplicateGUID         = New("DUPLICATE_GUID", http.StatusConflict, "an event with this uid already exists in the collection")
	ErrDuplicateName         = New("DUPLICATE_NAME", http.StatusConflict, "an event with this name already exists in the collection")
	ErrCollectionNotFound    = New("COLLECTION_NOT_FOUND", http.StatusNotFound, "collection not found")
	ErrEventNotFound         = New("EVENT_NOT_FOUND", http.StatusNotFound, "event not found")
	ErrAccessDenied          = New("ACCESS_DENIED", http.StatusForbidden, "access denied")
	ErrReservedName          = New("RESERVED_NAME", http.StatusBadRequest, "name is reserved")
	ErrMalformedPath         = New("MALFORMED_PATH", http.StatusBadRequest, "malformed collection path")
	ErrIllegalCalendar       = New("ILLEGAL_CALENDAR_CREATION", http.StatusBadRequest, "collection may not be created here")
	ErrNoRecurrenceInstances = New("NO_RECURRENCE_INSTANCES", http.StatusBadRequest, "recurring event generated no instances")
	ErrInvalidOverride       = New("INVALID_OVERRIDE", http.StatusBadRequest, "override matches no generated instance")
	ErrNotRecurring          = New("NOT_RECURRING", http.StatusBadRequest, "overrides supplied for a non-recurring event")
	ErrCollectionNotEmpty    = New("COLLECTION_NOT_EMPTY", http.StatusConflict, "collection is not empty")
	ErrValidation            = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrUnauthorized          = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrInvalidCredentials    = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInternal              = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// ErrStaleState reports an optimistic conflict from the store. The core never
// retries; retry policy belongs to the caller.
var ErrStaleState = &Error{Code: "STALE_STATE", Status: http.StatusConflict, Message: "stale state, retry the transaction", Retryable: true}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
