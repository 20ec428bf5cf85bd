package engine

import (
	"errors"
	"fmt"

	"basin/internal/buffer"
)

var (
	// ErrNotAssigned is returned for operations on a partition the engine
	// does not currently own.
	ErrNotAssigned = errors.New("engine: partition not assigned")

	// ErrLostProgress is returned by Unassign when unconfirmed records had
	// to be abandoned; the upstream source must not advance past the last
	// reported commit offset.
	ErrLostProgress = errors.New("engine: unconfirmed records abandoned")
)

// AssignmentError reports that a partition could not be brought to active
// within the retry budget. The partition is left unassigned; the caller may
// retry the assignment later.
type AssignmentError struct {
	Key buffer.PartitionKey
	Err error
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("engine: assign %s: %v", e.Key, e.Err)
}

func (e *AssignmentError) Unwrap() error { return e.Err }

// PartitionFailedError is the sticky failure returned for every operation on
// a partition after an invariant violation or retry exhaustion. Other
// partitions are unaffected.
type PartitionFailedError struct {
	Key buffer.PartitionKey
	Err error
}

func (e *PartitionFailedError) Error() string {
	return fmt.Sprintf("engine: partition %s failed: %v", e.Key, e.Err)
}

func (e *PartitionFailedError) Unwrap() error { return e.Err }
