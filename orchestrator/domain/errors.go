package domain

import "github.com/pkg/errors"

var (
	// ErrDuplicateInstance is returned when a start event arrives for a
	// correlation id that already has a saga instance.
	ErrDuplicateInstance = errors.New("saga instance already exists for correlation id")

	// ErrNotFound is returned when an event references an unknown correlation id.
	ErrNotFound = errors.New("saga instance not found")

	// ErrOutOfOrderEvent is returned when an event does not match a transition
	// row for the instance's current state. Expected under redelivery and
	// racing messages, so callers log and discard rather than fail.
	ErrOutOfOrderEvent = errors.New("event does not match a transition for the current state")

	// ErrMissingCorrelationID is returned for inbound messages without a
	// correlation id.
	ErrMissingCorrelationID = errors.New("inbound message has no correlation id")

	// ErrInstanceTerminal is returned when an event arrives for an instance
	// that already reached a terminal state.
	ErrInstanceTerminal = errors.New("saga instance is in a terminal state")

	// ErrPersistenceConflict is returned when a commit lost against a
	// concurrent writer or the per-instance lock could not be acquired in time.
	ErrPersistenceConflict = errors.New("saga commit conflicted with a concurrent writer")
)
