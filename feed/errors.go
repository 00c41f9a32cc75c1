package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when writing to or rendering a Store that
	// has been closed.
	ErrInvalidState = errors.New("the event store has been closed")
	// ErrDuplicateEvent matches every *DuplicateEventError via errors.Is.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrInvalidEvent is wrapped by Event.Validate failures.
	ErrInvalidEvent = errors.New("invalid event")
)

// StorageError wraps a failure of the storage layer. Op names the Store
// operation that triggered it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %v: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DuplicateEventError means an Add call included an ID that was already in
// the feed. Nothing from that call was written.
type DuplicateEventError struct {
	ID string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("an event with ID %q already exists", e.ID)
}

func (e *DuplicateEventError) Is(target error) bool {
	return target == ErrDuplicateEvent
}
