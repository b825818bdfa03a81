package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no result arrives before the deadline.
	ErrTimeout = errors.New("script evaluation timed out")
	// ErrStaleDelivery marks a result for an id that is no longer pending.
	// It is logged and counted, never returned to a caller.
	ErrStaleDelivery = errors.New("stale result delivery")
	// ErrPageInvalidated fails requests whose page was navigated away from.
	ErrPageInvalidated = errors.New("page invalidated by navigation")
	// ErrSchedulingFailure means the UI loop refused the execution task.
	ErrSchedulingFailure = errors.New("ui loop unavailable")
	// ErrSurfaceDestroyed is wrapped by surfaces that can no longer run
	// scripts. The session treats it as a scheduling failure.
	ErrSurfaceDestroyed = errors.New("surface destroyed")
	// ErrSessionClosed fails requests against a torn down session.
	ErrSessionClosed = errors.New("bridge session closed")
	// ErrDuplicateID is returned when an id is registered twice.
	ErrDuplicateID = errors.New("request id already pending")
	// ErrIDExhausted is returned when the id counter would wrap.
	ErrIDExhausted = errors.New("request id space exhausted")
	// ErrUnknownID is returned when waiting on an id that was never registered.
	ErrUnknownID = errors.New("unknown request id")
)

// EvaluationError carries a script error reported by the surface.
type EvaluationError struct {
	Message string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("script error: %s", e.Message)
}

// IsEvaluationError reports whether err wraps an EvaluationError.
func IsEvaluationError(err error) bool {
	var evalErr *EvaluationError
	return errors.As(err, &evalErr)
}
