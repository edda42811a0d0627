package settlement

import (
	"errors"
	"fmt"
)

var ErrPersistence = errors.New("persistence failure")

// PersistenceError reports a failed read or write. Nothing from the
// settlement was committed, so the whole settlement can be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
