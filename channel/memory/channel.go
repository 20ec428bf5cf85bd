// Package memory is an in-process backend for development and tests. It
// remembers confirmed offsets across reopens, so resume behaves like a real
// store, and it can delay confirmations to exercise the pending path: with
// ConfirmAfter > 0 a write acknowledges receipt only, and the confirmation
// surfaces after that many Poll calls.
package memory

import (
	"context"
	"fmt"
	"sync"

	"basin/channel"
	"basin/internal/buffer"
)

type Config struct {
	ConfirmAfter int `yaml:"confirm_after"`
}

type adapter struct {
	cfg Config

	mu        sync.Mutex
	confirmed map[buffer.PartitionKey]int64
	stored    map[buffer.PartitionKey][]buffer.Record
}

func (a *adapter) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("memory-channel: expected Config, got %T", raw)
	}
	if c.ConfirmAfter < 0 {
		return fmt.Errorf("memory-channel: confirm_after must be >= 0, got %d", c.ConfirmAfter)
	}
	a.cfg = c
	a.confirmed = map[buffer.PartitionKey]int64{}
	a.stored = map[buffer.PartitionKey][]buffer.Record{}
	return nil
}

func (a *adapter) Open(_ context.Context, key buffer.PartitionKey) (channel.Conn, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	resume, ok := a.confirmed[key]
	if !ok {
		resume = -1
	}
	return &conn{a: a, key: key}, resume, nil
}

func (a *adapter) Close() error { return nil }

// Records returns a copy of everything stored for a partition. Test hook.
func (a *adapter) Records(key buffer.PartitionKey) []buffer.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]buffer.Record(nil), a.stored[key]...)
}

type delayed struct {
	offset int64
	due    int // Poll calls left before the confirmation surfaces
}

type conn struct {
	a   *adapter
	key buffer.PartitionKey

	mu    sync.Mutex
	queue []delayed
}

func (c *conn) Write(_ context.Context, recs []buffer.Record) (channel.WriteResult, error) {
	last := recs[len(recs)-1].Offset

	c.a.mu.Lock()
	prev, ok := c.a.confirmed[c.key]
	for _, r := range recs {
		// replays after a reopen land here again; keep one copy
		if ok && r.Offset <= prev {
			continue
		}
		c.a.stored[c.key] = append(c.a.stored[c.key], r)
	}
	c.a.mu.Unlock()

	if c.a.cfg.ConfirmAfter == 0 {
		c.a.mu.Lock()
		c.a.confirmed[c.key] = last
		c.a.mu.Unlock()
		return channel.WriteResult{Confirmed: last}, nil
	}

	c.mu.Lock()
	c.queue = append(c.queue, delayed{offset: last, due: c.a.cfg.ConfirmAfter})
	c.mu.Unlock()
	return channel.WriteResult{Pending: true}, nil
}

func (c *conn) Poll() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	matured := int64(-1)
	for i := range c.queue {
		c.queue[i].due--
	}
	n := 0
	for _, d := range c.queue {
		if d.due <= 0 {
			matured = d.offset
			continue
		}
		c.queue[n] = d
		n++
	}
	c.queue = c.queue[:n]
	if matured < 0 {
		return 0, false
	}
	c.a.mu.Lock()
	if prev, ok := c.a.confirmed[c.key]; !ok || matured > prev {
		c.a.confirmed[c.key] = matured
	}
	c.a.mu.Unlock()
	return matured, true
}

func (c *conn) Close(context.Context) error { return nil }

func init() {
	channel.Register("memory", func() channel.Adapter { return &adapter{} })
}
