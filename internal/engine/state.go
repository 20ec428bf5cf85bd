package engine

import (
	"strconv"
	"sync"

	"basin/channel"
	"basin/internal/buffer"
)

type phase int

const (
	phaseOpening phase = iota
	phaseActive
	phaseClosing
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phaseOpening:
		return "opening"
	case phaseActive:
		return "active"
	case phaseClosing:
		return "closing"
	case phaseFailed:
		return "failed"
	}
	return "unknown"
}

// pendingBatch is one drained batch written to the channel but not yet
// confirmed durable. Records are held until confirmation so the batch can be
// resubmitted wholesale after a channel reopen.
type pendingBatch struct {
	gen     int64
	first   int64
	last    int64
	records []buffer.Record
}

// state is all per-partition engine state. mu serializes accept, flush and
// reconcile for the partition; different partitions never contend.
type state struct {
	mu  sync.Mutex
	key buffer.PartitionKey

	phase phase
	buf   *buffer.Buffer
	conn  channel.Conn
	gen   int64

	persisted int64 // last offset the remote confirmed durable, -1 none
	delivered int64 // last offset accepted into the buffer, -1 none

	pending []pendingBatch
	failure error // sticky once the partition fails
}

// confirm applies a confirmation of offsets up to and including off, tagged
// with the generation it was observed on. Confirmations from a superseded
// generation are dropped: a reopened channel resubmits everything
// unconfirmed, so the old channel has nothing left to prove.
func (st *state) confirm(gen, off int64) {
	if gen != st.gen {
		return
	}
	for len(st.pending) > 0 && st.pending[0].last <= off {
		st.pending = st.pending[1:]
	}
	if off > st.persisted {
		st.persisted = off
	}
}

// unconfirmed counts offsets accepted but not yet proven durable.
func (st *state) unconfirmed() int64 {
	if st.delivered < 0 {
		return 0
	}
	return st.delivered - st.persisted
}

func (st *state) labels() (string, string) {
	return st.key.Topic, strconv.Itoa(int(st.key.Partition))
}
