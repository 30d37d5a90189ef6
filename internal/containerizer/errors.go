package containerizer

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by RuntimeError when the target object is absent.
var ErrNotFound = errors.New("container not found")

// ErrNotRunning is wrapped by RuntimeError when an operation needs a
// running container.
var ErrNotRunning = errors.New("container is not running")

// RuntimeError reports a failed call into a container runtime.
type RuntimeError struct {
	Runtime RuntimeType
	Op      string
	Name    string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s %s: %v", e.Runtime, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Runtime, e.Op, e.Name, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsNotFound checks whether err reports a missing container.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRuntimeError checks whether err came from a runtime adapter.
func IsRuntimeError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}

func newRuntimeError(rt RuntimeType, op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &RuntimeError{Runtime: rt, Op: op, Name: name, Err: err}
}
