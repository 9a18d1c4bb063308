package atelier

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and reporting decisions.
type Kind string

const (
	// KindConnection means the server was unreachable or refused the connection.
	KindConnection Kind = "connection"
	// KindTimeout means a request or the whole wait exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindValidation means a job graph, override, or payload was malformed.
	// Validation failures are structural and never retried.
	KindValidation Kind = "validation"
	// KindExecution means the server reported a failure (5xx or job-level error).
	KindExecution Kind = "execution"
	// KindUpload means an asset upload failed or was rejected.
	KindUpload Kind = "upload"
	// KindDownload means an artifact fetch failed or exceeded a size limit.
	KindDownload Kind = "download"
	// KindDestroyed means the client was torn down before or during the call.
	KindDestroyed Kind = "destroyed"
	// KindInProgress means another submission is already in flight.
	KindInProgress Kind = "in_progress"
	// KindCancelled means the caller's context was cancelled.
	KindCancelled Kind = "cancelled"
)

var (
	// ErrClientDestroyed is returned by every public call after Destroy.
	ErrClientDestroyed = errors.New("atelier: client destroyed")

	// ErrRequestInProgress is returned when a second submission is attempted
	// while the first is still in flight. Submissions are never queued.
	ErrRequestInProgress = errors.New("atelier: request already in progress")

	// ErrRequestCancelled is returned when the caller's context is cancelled.
	// Cancellation is non-retryable.
	ErrRequestCancelled = errors.New("atelier: request cancelled")

	// ErrUnknownNode is returned when an override names a node id that does
	// not exist in the job graph.
	ErrUnknownNode = errors.New("atelier: unknown node")

	// ErrInvalidOverrideType is returned when a bulk override value is not a
	// primitive JSON-representable type.
	ErrInvalidOverrideType = errors.New("atelier: invalid override value type")
)

// Error is a classified failure. Op names the operation that failed
// ("submit", "poll", "upload", ...), Message is human-readable and names the
// offending id, url, or key, and Err holds the underlying cause, if any.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// E builds a classified error.
func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Errorf builds a classified error with a formatted message and no cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("atelier: %s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("atelier: %s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("atelier: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("atelier: %s: %s error", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality against another *Error, and maps the destroyed,
// in-progress, and cancelled kinds onto their sentinel errors so that
// errors.Is(err, ErrClientDestroyed) works regardless of wrapping.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrClientDestroyed:
		return e.Kind == KindDestroyed
	case ErrRequestInProgress:
		return e.Kind == KindInProgress
	case ErrRequestCancelled:
		return e.Kind == KindCancelled
	}
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Errors outside the taxonomy report KindExecution.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrClientDestroyed):
		return KindDestroyed
	case errors.Is(err, ErrRequestInProgress):
		return KindInProgress
	case errors.Is(err, ErrRequestCancelled):
		return KindCancelled
	}
	return KindExecution
}

// Retryable reports whether err may be retried: validation failures,
// cancellation, and teardown are structural and fail fast, everything else
// (connection, timeout, server-side) is fair game for backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindCancelled, KindDestroyed, KindInProgress:
		return false
	}
	return true
}
