package utils

import "fmt"

// StoreError records which backend operation failed and for which target.
type StoreError struct {
	Backend string
	Op      string
	Target  string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.Target, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStore wraps err in a StoreError. A nil err stays nil.
func WrapStore(backend, op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Backend: backend, Op: op, Target: target, Err: err}
}
