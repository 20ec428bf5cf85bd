// Package postgres ingests batches into a Postgres-compatible warehouse.
// Records and the partition's confirmed offset are committed in one
// transaction, so a write that returns is durable: confirmations are always
// synchronous and Poll never reports anything.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"basin/channel"
	"basin/internal/buffer"
)

type Config struct {
	DSN          string `yaml:"dsn"`
	Table        string `yaml:"table"`
	OffsetsTable string `yaml:"offsets_table"`
}

type adapter struct {
	cfg Config
	db  *sql.DB
}

func (a *adapter) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("postgres-channel: expected Config, got %T", raw)
	}
	if c.Table == "" {
		c.Table = "basin_records"
	}
	if c.OffsetsTable == "" {
		c.OffsetsTable = "basin_offsets"
	}
	db, err := sql.Open("postgres", c.DSN)
	if err != nil {
		return errors.Wrap(err, "postgres-channel: open pool")
	}
	a.cfg, a.db = c, db
	return nil
}

func (a *adapter) Open(ctx context.Context, key buffer.PartitionKey) (channel.Conn, int64, error) {
	q := fmt.Sprintf(`SELECT last_offset FROM %s WHERE topic = $1 AND partition = $2`, a.cfg.OffsetsTable)
	var last int64
	err := a.db.QueryRowContext(ctx, q, key.Topic, key.Partition).Scan(&last)
	switch {
	case err == sql.ErrNoRows:
		last = -1
	case err != nil:
		return nil, 0, &channel.OpenError{Key: key, Err: classify(err)}
	}
	return &conn{a: a, key: key}, last, nil
}

func (a *adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

type conn struct {
	a   *adapter
	key buffer.PartitionKey
}

func (c *conn) Write(ctx context.Context, recs []buffer.Record) (channel.WriteResult, error) {
	first := recs[0].Offset
	last := recs[len(recs)-1].Offset

	tx, err := c.a.db.BeginTx(ctx, nil)
	if err != nil {
		return channel.WriteResult{}, channel.Retryable(errors.Wrap(err, "begin"))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(c.a.cfg.Table,
		"topic", "partition", "record_offset", "record_key", "record_value", "record_ts"))
	if err != nil {
		return channel.WriteResult{}, c.wrap(first, err)
	}
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, c.key.Topic, c.key.Partition, r.Offset, r.Key, r.Value, r.Timestamp); err != nil {
			stmt.Close()
			return channel.WriteResult{}, c.wrap(r.Offset, err)
		}
	}
	// final empty exec flushes the COPY buffer
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return channel.WriteResult{}, c.wrap(first, err)
	}
	if err := stmt.Close(); err != nil {
		return channel.WriteResult{}, c.wrap(first, err)
	}

	upsert := fmt.Sprintf(`INSERT INTO %s (topic, partition, last_offset) VALUES ($1, $2, $3)
ON CONFLICT (topic, partition) DO UPDATE SET last_offset = GREATEST(%s.last_offset, EXCLUDED.last_offset)`,
		c.a.cfg.OffsetsTable, c.a.cfg.OffsetsTable)
	if _, err := tx.ExecContext(ctx, upsert, c.key.Topic, c.key.Partition, last); err != nil {
		return channel.WriteResult{}, c.wrap(first, err)
	}
	if err := tx.Commit(); err != nil {
		return channel.WriteResult{}, channel.Retryable(errors.Wrap(err, "commit"))
	}
	return channel.WriteResult{Confirmed: last}, nil
}

func (c *conn) Poll() (int64, bool) { return 0, false }

func (c *conn) Close(context.Context) error { return nil } // pool is shared

func (c *conn) wrap(off int64, err error) error {
	err = classify(err)
	var sm *schemaCause
	if errors.As(err, &sm) {
		return &channel.SchemaMismatchError{Key: c.key, Offset: off, Err: sm.err}
	}
	return err
}

type schemaCause struct{ err error }

func (s *schemaCause) Error() string { return s.err.Error() }
func (s *schemaCause) Unwrap() error { return s.err }

// classify maps pq error codes onto the channel taxonomy: undefined column
// or table means the destination shape diverged; connection and resource
// classes are worth a retry; anything else is fatal as-is.
func classify(err error) error {
	var pqe *pq.Error
	if errors.As(err, &pqe) {
		switch pqe.Code {
		case "42703", "42P01": // undefined_column, undefined_table
			return &schemaCause{err: err}
		}
		switch pqe.Code.Class() {
		case "08", "53", "57", "58": // connection, resources, intervention, system
			return channel.Retryable(err)
		}
		return err
	}
	// driver-level faults (dropped conn, bad conn) have no pq code
	return channel.Retryable(err)
}

func init() {
	channel.Register("postgres", func() channel.Adapter { return &adapter{} })
}
