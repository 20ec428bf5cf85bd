package memory

import (
	"context"
	"testing"
	"time"

	"basin/channel"
	"basin/internal/buffer"
)

var testKey = buffer.PartitionKey{Topic: "events", Partition: 0}

func records(offsets ...int64) []buffer.Record {
	out := make([]buffer.Record, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, buffer.Record{Offset: off, Value: []byte("v"), Size: 1, Timestamp: time.Unix(1700000000, 0)})
	}
	return out
}

func open(t *testing.T, a channel.Adapter) (channel.Conn, int64) {
	t.Helper()
	c, resume, err := a.Open(context.Background(), testKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return c, resume
}

func TestSynchronousConfirmAndResume(t *testing.T) {
	a := &adapter{}
	if err := a.Configure(Config{}); err != nil {
		t.Fatal(err)
	}
	c, resume := open(t, a)
	if resume != -1 {
		t.Fatalf("fresh resume = %d, want -1", resume)
	}
	res, err := c.Write(context.Background(), records(0, 1, 2))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if res.Pending || res.Confirmed != 2 {
		t.Fatalf("result = %+v, want synchronous confirm at 2", res)
	}
	if _, resume = open(t, a); resume != 2 {
		t.Fatalf("resume after write = %d, want 2", resume)
	}
}

func TestDelayedConfirmationMaturesThroughPoll(t *testing.T) {
	a := &adapter{}
	if err := a.Configure(Config{ConfirmAfter: 2}); err != nil {
		t.Fatal(err)
	}
	c, _ := open(t, a)
	res, err := c.Write(context.Background(), records(0, 1))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !res.Pending {
		t.Fatalf("result = %+v, want pending", res)
	}
	if _, ok := c.Poll(); ok {
		t.Fatal("confirmation surfaced one poll early")
	}
	off, ok := c.Poll()
	if !ok || off != 1 {
		t.Fatalf("poll = (%d, %v), want (1, true)", off, ok)
	}
	if _, resume := open(t, a); resume != 1 {
		t.Fatalf("resume = %d, want 1", resume)
	}
}

func TestReplayKeepsOneCopy(t *testing.T) {
	a := &adapter{}
	if err := a.Configure(Config{}); err != nil {
		t.Fatal(err)
	}
	c, _ := open(t, a)
	if _, err := c.Write(context.Background(), records(0, 1)); err != nil {
		t.Fatal(err)
	}
	// a reopened channel resubmitting its window must not duplicate rows
	c2, _ := open(t, a)
	if _, err := c2.Write(context.Background(), records(0, 1, 2)); err != nil {
		t.Fatal(err)
	}
	got := a.Records(testKey)
	if len(got) != 3 {
		t.Fatalf("stored %d records, want 3", len(got))
	}
	for i, r := range got {
		if r.Offset != int64(i) {
			t.Fatalf("stored[%d].Offset = %d, want %d", i, r.Offset, i)
		}
	}
}
