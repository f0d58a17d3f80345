package txstep

import (
	"errors"
	"fmt"

	"github.com/fortressi/txstep/future"
)

// Misuse errors raised by the step machinery itself. User errors returned by
// forward and backward actions are never wrapped.
var (
	ErrAlreadyRun        = errors.New("transaction already run")
	ErrNotRun            = errors.New("transaction not run, can't rollback")
	ErrAlreadyRolledBack = errors.New("transaction already rolled back")
	ErrDuplicateName     = errors.New("step name already in use")
)

// PanicError carries the payload of a panic raised by a forward or backward
// action. Value holds exactly what was passed to panic.
type PanicError = future.PanicError

// StepError adds step context to a misuse error.
type StepError struct {
	Index StepIndex
	Name  StepName
	Err   error
}

func (e *StepError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("step %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("step %d: %v", e.Index, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// TypeError reports a value of the wrong type handed to a typed adapter.
type TypeError struct {
	Want string
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("step input: expected %s, got %T", e.Want, e.Got)
}
