package chain

import (
	"errors"
	"fmt"
)

var (
	ErrZeroAddress = errors.New("zero address returned")
	ErrEmptyResult = errors.New("empty call result")
)

// ReadError reports a failed chain read: the node is unreachable, a call
// reverted or the result could not be decoded.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("chain read %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
