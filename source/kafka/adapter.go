package kafka

import (
	"context"

	"basin/internal/buffer"
)

// Engine is the partition lifecycle the driver feeds. Satisfied by
// engine.Manager.
type Engine interface {
	Assign(ctx context.Context, key buffer.PartitionKey) error
	Unassign(ctx context.Context, key buffer.PartitionKey) error
	Accept(ctx context.Context, key buffer.PartitionKey, rec buffer.Record) error
	CommitOffset(key buffer.PartitionKey) (int64, bool)
}

type Adapter interface {
	Configure(Config, Engine) error
	Run(context.Context) error
	Close() error
}
