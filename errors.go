package cvs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBackendFailure  = errors.New("backend failure")
	ErrLogic           = errors.New("internal logic error")
	ErrReleased        = errors.New("result buffer already released")
)

// ArgumentError is returned before any backend work starts when an input
// or parameter cannot be served. It matches ErrInvalidArgument.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

func (e *ArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

func invalidArg(field, format string, a ...any) error {
	return &ArgumentError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// BackendError reports an accelerator allocation, transfer or launch
// failure. It is fatal to the whole call. It matches ErrBackendFailure.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type BackendError struct {
	Backend string
	Op      string
	Status  string
	Err     error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %s failed: %s", e.Backend, e.Op, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackendFailure }

// LogicError signals a broken internal invariant. It matches ErrLogic.
type LogicError struct {
	Reason string
}

func (e *LogicError) Error() string {
	return "logic error: " + e.Reason
}

func (e *LogicError) Is(target error) bool { return target == ErrLogic }

func logicErr(format string, a ...any) error {
	return &LogicError{Reason: fmt.Sprintf(format, a...)}
}
