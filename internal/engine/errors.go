package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for retry and propagation decisions.
type ErrorKind string

const (
	// KindValidation marks a bad spec or dependency cycle. Raised before any
	// side effect.
	KindValidation ErrorKind = "validation"

	// KindTransient marks a provider network/timeout/throttle failure that is
	// retried with backoff.
	KindTransient ErrorKind = "transient"

	// KindPermanent marks an authorization, quota or conflict failure that is
	// surfaced immediately without retry.
	KindPermanent ErrorKind = "permanent"

	// KindDependencyNotReady marks a resource skipped because a prerequisite
	// never became ready. It blocks dependents without aborting independent
	// branches.
	KindDependencyNotReady ErrorKind = "dependency-not-ready"

	// KindDrift marks an external identifier recorded in state that no longer
	// resolves. Surfaced for operator reconciliation, never auto-healed.
	KindDrift ErrorKind = "drift"
)

// Error is a classified engine error carrying the resource it belongs to.
type Error struct {
	Kind     ErrorKind
	Resource string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		} else {
			msg = e.Err.Error()
		}
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Resource, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can test errors.Is(err, &Error{Kind: ...}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the classification from an error chain, defaulting to
// permanent for unclassified failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPermanent
}

// IsRetryable reports whether a failure should be retried with backoff.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

func validationErr(resource, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// NewTransientError wraps a retryable provider failure.
func NewTransientError(resource string, err error) *Error {
	return &Error{Kind: KindTransient, Resource: resource, Err: err}
}

// NewPermanentError wraps a non-retryable provider failure.
func NewPermanentError(resource string, err error) *Error {
	return &Error{Kind: KindPermanent, Resource: resource, Err: err}
}

// NewDependencyNotReadyError marks a resource blocked by a failed or
// unready prerequisite.
func NewDependencyNotReadyError(resource, dependency string) *Error {
	return &Error{
		Kind:     KindDependencyNotReady,
		Resource: resource,
		Message:  fmt.Sprintf("dependency %s is not ready", dependency),
	}
}

// NewDriftError marks a recorded external identifier that no longer matches
// the live resource.
func NewDriftError(resource, recorded, observed string) *Error {
	return &Error{
		Kind:     KindDrift,
		Resource: resource,
		Message:  fmt.Sprintf("recorded external id %q no longer resolves; provider reports %q", recorded, observed),
	}
}
