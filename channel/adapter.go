package channel

import (
	"context"
	"fmt"

	"basin/internal/buffer"
)

// WriteResult reports the outcome of a batch write. Confirmed is the highest
// offset the remote store has durably accepted. When Pending is true the
// store acknowledged receipt but not durability yet; the confirmation
// resolves later through Conn.Poll.
type WriteResult struct {
	Confirmed int64
	Pending   bool
}

// Conn is one open ingestion channel for one partition. A Conn is valid for
// a single generation: every reopen yields a fresh Conn and the engine tags
// it with the next generation number, so a superseded Conn's confirmations
// can be told apart and dropped.
type Conn interface {
	// Write submits a drained batch in offset order. On failure after a
	// partial transmit the caller reopens and resubmits the same batch from
	// its first offset; implementations must tolerate that replay.
	Write(ctx context.Context, records []buffer.Record) (WriteResult, error)

	// Poll returns the highest offset confirmed durable on this Conn since
	// it was opened. Non-blocking; ok is false when nothing new is known.
	Poll() (offset int64, ok bool)

	// Close releases the remote-side resource. Best effort.
	Close(ctx context.Context) error
}

// Adapter opens ingestion channels against one backing store.
type Adapter interface {
	Configure(any) error // backend-specific YAML section => struct

	// Open establishes the channel for a partition and returns the last
	// offset the store confirmed for it, -1 when the store holds nothing.
	Open(ctx context.Context, key buffer.PartitionKey) (Conn, int64, error)

	Close() error // idempotent
}

// Evolver is the external destination-evolution collaborator invoked when a
// write reports a schema mismatch. The engine calls it at most once per
// mismatched batch.
type Evolver interface {
	Evolve(ctx context.Context, key buffer.PartitionKey, cause error) error
}

// NoopEvolver changes nothing, so the retry after a mismatch usually
// mismatches again and escalates.
type NoopEvolver struct{}

func (NoopEvolver) Evolve(context.Context, buffer.PartitionKey, error) error { return nil }

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func New(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown channel backend %q", name)
}
