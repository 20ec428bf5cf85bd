package buffer

import (
	"errors"
	"time"
)

// ErrNoThreshold is returned by Validate when every limit is disabled, which
// would let buffers grow without bound.
var ErrNoThreshold = errors.New("buffer: at least one flush threshold must be enabled")

// Threshold holds the flush limits shared by all partition buffers. A value
// <= 0 disables that limit.
type Threshold struct {
	MaxRecords int
	MaxBytes   int64
	MaxAge     time.Duration
}

func (t Threshold) Validate() error {
	if t.MaxRecords <= 0 && t.MaxBytes <= 0 && t.MaxAge <= 0 {
		return ErrNoThreshold
	}
	return nil
}

// ShouldFlush reports whether a buffer with the given occupancy must flush
// now. Pure; the age of an empty buffer never triggers.
func (t Threshold) ShouldFlush(count int, bytes int64, age time.Duration) bool {
	if count == 0 {
		return false
	}
	if t.MaxRecords > 0 && count >= t.MaxRecords {
		return true
	}
	if t.MaxBytes > 0 && bytes >= t.MaxBytes {
		return true
	}
	if t.MaxAge > 0 && age >= t.MaxAge {
		return true
	}
	return false
}
