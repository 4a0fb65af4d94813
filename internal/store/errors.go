package store

import "fmt"

// Op classifies where a store failure happened.
type Op string

const (
	OpOpen    Op = "open"
	OpMigrate Op = "migrate"
	OpRead    Op = "read"
	OpWrite   Op = "write"
)

// StoreError wraps a database failure with its operation class. Callers
// surface these inline near the triggering action; they are never fatal.
type StoreError struct {
	Op  Op
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func writeErr(err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: OpWrite, Err: err}
}

func readErr(err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: OpRead, Err: err}
}
