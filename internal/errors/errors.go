package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrValidation       = errors.New("validation failed")
	ErrAlreadyStarted   = errors.New("pulse already started")
	ErrNotStarted       = errors.New("no pulse started")
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrStopFailed       = errors.New("stop failed")
	ErrTransient        = errors.New("transient failure")
	ErrBudgetExceeded   = errors.New("budget exceeded")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrModelParse       = errors.New("model response unparseable")
	ErrFatal            = errors.New("fatal error")
)

// Kind represents the category of error
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAlreadyStarted   Kind = "already_started"
	KindNotStarted       Kind = "not_started"
	KindAlreadyExists    Kind = "already_exists"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindStopFailed       Kind = "stop_failed"
	KindTransient        Kind = "transient"
	KindBudgetExceeded   Kind = "budget_exceeded"
	KindModelUnavailable Kind = "model_unavailable"
	KindModelParse       Kind = "model_parse"
	KindFatal            Kind = "fatal"
)

// PulseError is a structured error for pipeline operations
type PulseError struct {
	Kind       Kind
	Op         string // Operation that failed (e.g., "pulses.stop", "store.put_if_absent")
	PulseID    string // Pulse id if applicable
	UserID     string // User id if applicable
	Err        error  // Underlying error
	StatusCode int    // Upstream HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *PulseError) Error() string {
	switch {
	case e.PulseID != "":
		return fmt.Sprintf("%s failed for pulse %s: %v", e.Op, e.PulseID, e.Err)
	case e.UserID != "":
		return fmt.Sprintf("%s failed for user %s: %v", e.Op, e.UserID, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *PulseError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *PulseError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrAlreadyStarted:
		return e.Kind == KindAlreadyStarted
	case ErrNotStarted:
		return e.Kind == KindNotStarted
	case ErrAlreadyExists:
		return e.Kind == KindAlreadyExists
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict || e.Kind == KindAlreadyExists || e.Kind == KindAlreadyStarted
	case ErrStopFailed:
		return e.Kind == KindStopFailed
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrBudgetExceeded:
		return e.Kind == KindBudgetExceeded
	case ErrModelUnavailable:
		return e.Kind == KindModelUnavailable
	case ErrModelParse:
		return e.Kind == KindModelParse
	case ErrFatal:
		return e.Kind == KindFatal
	}

	return errors.Is(e.Err, target)
}

// New creates a new PulseError
func New(kind Kind, op string, err error) *PulseError {
	return &PulseError{
		Kind:      kind,
		Op:        op,
		Err:       err,
		Timestamp: time.Now().UTC(),
		Retryable: kind == KindTransient,
	}
}

// Newf creates a new PulseError from a formatted message
func Newf(kind Kind, op, format string, args ...any) *PulseError {
	return New(kind, op, fmt.Errorf(format, args...))
}

// WithPulse adds pulse identity to the error
func (e *PulseError) WithPulse(pulseID string) *PulseError {
	e.PulseID = pulseID
	return e
}

// WithUser adds user identity to the error
func (e *PulseError) WithUser(userID string) *PulseError {
	e.UserID = userID
	return e
}

// WithStatusCode adds an upstream HTTP status code to the error
func (e *PulseError) WithStatusCode(code int) *PulseError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// Helper constructors

// Validationf builds a validation error from a formatted message
func Validationf(op, format string, args ...any) *PulseError {
	return Newf(KindValidation, op, format, args...)
}

// Transient wraps a transient storage or network error
func Transient(op string, err error) *PulseError {
	return New(KindTransient, op, err)
}

// Conflictf builds a conflict error from a formatted message
func Conflictf(op, format string, args ...any) *PulseError {
	return Newf(KindConflict, op, format, args...)
}

// KindOf extracts the kind from an error chain; KindFatal when untyped
func KindOf(err error) Kind {
	var perr *PulseError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindFatal
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var perr *PulseError
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	return errors.Is(err, ErrTransient)
}

// IsConditionalFailure reports whether the error is a conditional-check
// failure. Those are terminal outcomes and must never be retried.
func IsConditionalFailure(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict)
}
