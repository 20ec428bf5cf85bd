// Package engine implements the buffering-and-commit core of the connector:
// per-partition buffers, threshold-driven flushes into an ingestion channel,
// and offset bookkeeping derived only from remote confirmations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"basin/channel"
	"basin/internal/buffer"
	"basin/internal/logging"
	"basin/internal/telemetry"
)

// Manager owns the map from partition key to (buffer, channel, offset state)
// and is the only component that touches it. All coordination between a
// partition's buffer and its channel passes through here.
type Manager struct {
	adapter channel.Adapter
	evolver channel.Evolver
	th      buffer.Threshold
	retry   RetryConfig

	sweepEvery   time.Duration
	closeTimeout time.Duration
	log          *slog.Logger

	mu    sync.RWMutex
	parts map[buffer.PartitionKey]*state
}

type Option func(*Manager)

// WithEvolver sets the destination-evolution collaborator consulted on
// schema mismatches.
func WithEvolver(e channel.Evolver) Option {
	return func(m *Manager) { m.evolver = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithSweepInterval sets the cadence of the maintenance loop driven by Run.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweepEvery = d }
}

// WithCloseTimeout bounds the final flush during Unassign.
func WithCloseTimeout(d time.Duration) Option {
	return func(m *Manager) { m.closeTimeout = d }
}

// New validates the configuration and returns an engine with no partitions
// assigned. Threshold validation fails here, before any record flows.
func New(adapter channel.Adapter, th buffer.Threshold, retry RetryConfig, opts ...Option) (*Manager, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	retry.applyDefaults()
	m := &Manager{
		adapter:      adapter,
		evolver:      channel.NoopEvolver{},
		th:           th,
		retry:        retry,
		sweepEvery:   time.Second,
		closeTimeout: 30 * time.Second,
		log:          logging.L(),
		parts:        make(map[buffer.PartitionKey]*state),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Assign opens an ingestion channel for the partition, queries the remote
// store's last confirmed offset and seeds an empty buffer there. Assigning a
// partition that is already owned is a no-op.
func (m *Manager) Assign(ctx context.Context, key buffer.PartitionKey) error {
	m.mu.Lock()
	if _, ok := m.parts[key]; ok {
		m.mu.Unlock()
		return nil
	}
	st := &state{key: key, phase: phaseOpening, persisted: -1, delivered: -1}
	st.mu.Lock()
	m.parts[key] = st
	m.mu.Unlock()
	defer st.mu.Unlock()

	if err := m.openLocked(ctx, st); err != nil {
		m.mu.Lock()
		delete(m.parts, key)
		m.mu.Unlock()
		return &AssignmentError{Key: key, Err: err}
	}
	st.buf = buffer.New(key, st.persisted)
	st.delivered = st.persisted
	st.phase = phaseActive
	m.log.Info("partition assigned",
		"partition", key.String(), "resume", st.persisted+1, "generation", st.gen)
	return nil
}

// Accept routes one record to its partition buffer and flushes synchronously
// when a threshold trips. The blocking flush is the backpressure mechanism:
// the delivery path slows to the store's ingestion latency instead of
// growing the buffer without bound.
func (m *Manager) Accept(ctx context.Context, key buffer.PartitionKey, rec buffer.Record) error {
	st, err := m.lookup(key)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := m.activeLocked(st); err != nil {
		return err
	}
	if err := st.buf.Append(rec); err != nil {
		var ooo *buffer.OutOfOrderError
		if errors.As(err, &ooo) {
			// upstream ordering defect: stop accepting for this partition
			return m.failLocked(st, err)
		}
		return err
	}
	st.delivered = rec.Offset
	topic, part := st.labels()
	telemetry.RecordsAccepted.WithLabelValues(topic, part).Inc()
	telemetry.BufferedBytes.WithLabelValues(topic, part).Set(float64(st.buf.Bytes()))
	if m.th.ShouldFlush(st.buf.Count(), st.buf.Bytes(), st.buf.Age(time.Now())) {
		return m.flushLocked(ctx, st)
	}
	return nil
}

// Flush forces the partition's buffer to the channel regardless of
// thresholds.
func (m *Manager) Flush(ctx context.Context, key buffer.PartitionKey) error {
	st, err := m.lookup(key)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := m.activeLocked(st); err != nil {
		return err
	}
	return m.flushLocked(ctx, st)
}

// Reconcile drains any confirmations the channel has accumulated and
// advances the partition's offset state. Non-blocking.
func (m *Manager) Reconcile(ctx context.Context, key buffer.PartitionKey) error {
	st, err := m.lookup(key)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.phase == phaseFailed {
		return st.failure
	}
	m.pollLocked(st)
	return nil
}

// CommitOffset reports the next offset the source may safely deliver:
// one past the last remote-confirmed offset. ok is false when the engine has
// nothing proven for the partition, in which case the caller must keep its
// previously known position.
func (m *Manager) CommitOffset(key buffer.PartitionKey) (int64, bool) {
	st, err := m.lookup(key)
	if err != nil {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	m.pollLocked(st)
	if st.phase != phaseActive || st.persisted < 0 {
		return 0, false
	}
	return st.persisted + 1, true
}

// Unassign performs a final flush and reconcile bounded by the close
// timeout, closes the channel regardless of the flush outcome and discards
// all partition state. Unconfirmed offsets are surfaced via ErrLostProgress,
// never silently dropped. Unassigning an unowned partition is a no-op.
func (m *Manager) Unassign(ctx context.Context, key buffer.PartitionKey) error {
	m.mu.RLock()
	st, ok := m.parts[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	if st.phase == phaseClosing {
		st.mu.Unlock()
		return nil
	}
	wasFailed := st.phase == phaseFailed
	st.phase = phaseClosing

	cctx, cancel := context.WithTimeout(ctx, m.closeTimeout)
	defer cancel()

	if !wasFailed {
		if err := m.flushLocked(cctx, st); err != nil {
			// reported, but never blocks resource release
			m.log.Warn("final flush failed", "partition", key.String(), "error", err)
		}
		m.pollLocked(st)
	}
	if st.conn != nil {
		if err := st.conn.Close(cctx); err != nil {
			m.log.Warn("channel close failed", "partition", key.String(), "error", err)
		}
		st.conn = nil
	}
	lost := st.unconfirmed()
	st.buf = nil
	st.pending = nil
	st.mu.Unlock()

	m.mu.Lock()
	delete(m.parts, key)
	m.mu.Unlock()

	m.log.Info("partition unassigned", "partition", key.String(), "unconfirmed", lost)
	if lost > 0 {
		return fmt.Errorf("%w: partition %s: %d offsets", ErrLostProgress, key, lost)
	}
	return nil
}

// Sweep runs one maintenance pass over a snapshot of the partitions:
// age-based flushes and confirmation polling. The map lock is never held
// across a network call.
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]*state, 0, len(m.parts))
	for _, st := range m.parts {
		snapshot = append(snapshot, st)
	}
	m.mu.RUnlock()

	for _, st := range snapshot {
		st.mu.Lock()
		if st.phase != phaseActive {
			st.mu.Unlock()
			continue
		}
		if m.th.ShouldFlush(st.buf.Count(), st.buf.Bytes(), st.buf.Age(time.Now())) {
			if err := m.flushLocked(ctx, st); err != nil {
				m.log.Warn("sweep flush failed", "partition", st.key.String(), "error", err)
			}
		}
		m.pollLocked(st)
		st.mu.Unlock()
	}
}

// Run drives periodic maintenance until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	t := time.NewTicker(m.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Sweep(ctx)
		}
	}
}

// Close unassigns every partition, in parallel across partitions.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.RLock()
	keys := make([]buffer.PartitionKey, 0, len(m.parts))
	for key := range m.parts {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, key := range keys {
		key := key
		g.Go(func() error { return m.Unassign(ctx, key) })
	}
	return g.Wait()
}

func (m *Manager) lookup(key buffer.PartitionKey) (*state, error) {
	m.mu.RLock()
	st, ok := m.parts[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAssigned, key)
	}
	return st, nil
}

func (m *Manager) activeLocked(st *state) error {
	switch st.phase {
	case phaseActive:
		return nil
	case phaseFailed:
		return st.failure
	default:
		return fmt.Errorf("%w: %s is %s", ErrNotAssigned, st.key, st.phase)
	}
}

func (m *Manager) failLocked(st *state, err error) error {
	st.phase = phaseFailed
	fe := &PartitionFailedError{Key: st.key, Err: err}
	st.failure = fe
	topic, part := st.labels()
	telemetry.FlushErrors.WithLabelValues(topic, part).Inc()
	m.log.Error("partition failed", "partition", st.key.String(), "error", err)
	return fe
}

// pollLocked sweeps pending confirmations off the current channel. Stale
// generations are filtered inside confirm.
func (m *Manager) pollLocked(st *state) {
	if st.conn == nil {
		return
	}
	off, ok := st.conn.Poll()
	if !ok {
		return
	}
	st.confirm(st.gen, off)
	topic, part := st.labels()
	telemetry.CommittedOffset.WithLabelValues(topic, part).Set(float64(st.persisted))
}
