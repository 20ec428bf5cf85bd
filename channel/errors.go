package channel

import (
	"errors"
	"fmt"
	"net"

	"basin/internal/buffer"
)

// OpenError wraps a failure to establish the remote-side resource for a
// partition. The caller decides whether and when to retry assignment.
type OpenError struct {
	Key buffer.PartitionKey
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("channel %s: open: %v", e.Key, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// SchemaMismatchError reports that the record shape at Offset diverged from
// the destination's current shape. Not retried blindly: the engine asks the
// Evolver to evolve the destination once, then resubmits the batch once.
type SchemaMismatchError struct {
	Key    buffer.PartitionKey
	Offset int64
	Err    error
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("channel %s: schema mismatch at offset %d: %v", e.Key, e.Offset, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as a transient remote fault worth retrying with
// backoff. Backends wrap timeouts, throttling and connection drops with it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked Retryable or is a plain network
// fault.
func IsRetryable(err error) bool {
	var r *retryableError
	if errors.As(err, &r) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
