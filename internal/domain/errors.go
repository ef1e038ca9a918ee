package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound means the id does not resolve to a live todo.
var ErrNotFound = errors.New("todo not found")

// ValidationError is a required-field or enum violation. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError is returned when a writer's observed version is behind the
// stored one. ServerTodo is the authoritative state so the caller can adopt
// it (or merge) without another round trip. The store was not mutated.
type ConflictError struct {
	ServerVersion int64
	ClientVersion int64
	ServerTodo    *Todo
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: server has %d, client sent %d", e.ServerVersion, e.ClientVersion)
}

// StoreError wraps a persistence failure. Nothing was committed, so the
// caller may retry the whole operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
