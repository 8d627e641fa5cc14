package indexer

import (
	"errors"
	"fmt"
)

// ErrTaskExhausted is returned for a task whose retry attempts all failed.
var ErrTaskExhausted = errors.New("task retries exhausted")

// SetupError aborts a run before any worker starts.
type SetupError struct {
	Step string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
