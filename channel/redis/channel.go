// Package redis ingests batches into Redis streams, one stream per
// partition. The batch XADDs and the confirmed-offset SET ride a single
// MULTI/EXEC, so confirmations are synchronous like the warehouse backend.
// Mostly useful for local pipelines and soak tests.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"basin/channel"
	"basin/internal/buffer"
)

type Config struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	KeyPrefix    string `yaml:"key_prefix"`
	StreamMaxLen int64  `yaml:"stream_maxlen"` // 0 = unbounded
}

type adapter struct {
	cfg    Config
	client *goredis.Client
}

func (a *adapter) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("redis-channel: expected Config, got %T", raw)
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "basin"
	}
	a.cfg = c
	a.client = goredis.NewClient(&goredis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	return nil
}

func (a *adapter) Open(ctx context.Context, key buffer.PartitionKey) (channel.Conn, int64, error) {
	val, err := a.client.Get(ctx, a.offsetKey(key)).Result()
	switch {
	case err == goredis.Nil:
		return &conn{a: a, key: key}, -1, nil
	case err != nil:
		return nil, 0, &channel.OpenError{Key: key, Err: channel.Retryable(err)}
	}
	last, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, 0, &channel.OpenError{Key: key, Err: errors.Wrapf(err, "corrupt offset %q", val)}
	}
	return &conn{a: a, key: key}, last, nil
}

func (a *adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *adapter) offsetKey(key buffer.PartitionKey) string {
	return fmt.Sprintf("%s:offset:%s:%d", a.cfg.KeyPrefix, key.Topic, key.Partition)
}

func (a *adapter) streamKey(key buffer.PartitionKey) string {
	return fmt.Sprintf("%s:stream:%s", a.cfg.KeyPrefix, key)
}

type conn struct {
	a   *adapter
	key buffer.PartitionKey
}

func (c *conn) Write(ctx context.Context, recs []buffer.Record) (channel.WriteResult, error) {
	last := recs[len(recs)-1].Offset
	pipe := c.a.client.TxPipeline()
	for _, r := range recs {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: c.a.streamKey(c.key),
			MaxLen: c.a.cfg.StreamMaxLen,
			Approx: true,
			Values: map[string]any{
				"offset": r.Offset,
				"key":    string(r.Key),
				"value":  string(r.Value),
				"ts":     r.Timestamp.UnixMilli(),
			},
		})
	}
	pipe.Set(ctx, c.a.offsetKey(c.key), last, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		// redis faults are connection-shaped; let the engine reopen
		return channel.WriteResult{}, channel.Retryable(errors.Wrap(err, "redis-channel: exec"))
	}
	return channel.WriteResult{Confirmed: last}, nil
}

func (c *conn) Poll() (int64, bool) { return 0, false }

func (c *conn) Close(context.Context) error { return nil } // client is shared

func init() {
	channel.Register("redis", func() channel.Adapter { return &adapter{} })
}
