package buffer

import (
	"fmt"
	"time"
)

// OutOfOrderError signals an append whose offset is not contiguous with what
// the buffer already holds. This is an integration defect upstream, not a
// recoverable condition: the caller must stop accepting for the partition.
type OutOfOrderError struct {
	Key      PartitionKey
	Got      int64
	Expected int64
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("buffer %s: out-of-order append: got offset %d, expected %d", e.Key, e.Got, e.Expected)
}

// Buffer accumulates records for one partition between flushes. Offsets are
// contiguous: the first append after New or Drain must continue exactly where
// the previous flush left off. Not safe for concurrent use; the engine holds
// a per-partition lock around every call.
type Buffer struct {
	key      PartitionKey
	records  []Record
	bytes    int64
	openedAt time.Time
	next     int64 // offset the next append must carry
}

// New returns an empty buffer whose first accepted offset is resume+1, where
// resume is the last offset the remote store confirmed (-1 for none).
func New(key PartitionKey, resume int64) *Buffer {
	return &Buffer{key: key, next: resume + 1}
}

// Append adds one record. The buffer is left unchanged on error.
func (b *Buffer) Append(r Record) error {
	if r.Offset != b.next {
		return &OutOfOrderError{Key: b.key, Got: r.Offset, Expected: b.next}
	}
	if len(b.records) == 0 {
		b.openedAt = time.Now()
	}
	b.records = append(b.records, r)
	b.bytes += r.Size
	b.next++
	return nil
}

// Drain returns the buffered records in order and resets the buffer. Offset
// continuity is kept: the next append must follow the drained range.
func (b *Buffer) Drain() []Record {
	out := b.records
	b.records = nil
	b.bytes = 0
	b.openedAt = time.Time{}
	return out
}

func (b *Buffer) Empty() bool  { return len(b.records) == 0 }
func (b *Buffer) Count() int   { return len(b.records) }
func (b *Buffer) Bytes() int64 { return b.bytes }

// Age reports how long the oldest buffered record has been waiting. Zero for
// an empty buffer.
func (b *Buffer) Age(now time.Time) time.Duration {
	if len(b.records) == 0 {
		return 0
	}
	return now.Sub(b.openedAt)
}

// FirstOffset returns the lowest buffered offset; ok is false when empty.
func (b *Buffer) FirstOffset() (int64, bool) {
	if len(b.records) == 0 {
		return 0, false
	}
	return b.records[0].Offset, true
}

// LastOffset returns the highest buffered offset; ok is false when empty.
func (b *Buffer) LastOffset() (int64, bool) {
	if len(b.records) == 0 {
		return 0, false
	}
	return b.records[len(b.records)-1].Offset, true
}
