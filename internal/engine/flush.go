package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"basin/channel"
	"basin/internal/buffer"
	"basin/internal/telemetry"
)

// flushLocked drains the partition buffer and submits the batch. Caller
// holds st.mu.
func (m *Manager) flushLocked(ctx context.Context, st *state) error {
	if st.buf == nil || st.buf.Empty() {
		return nil
	}
	first, _ := st.buf.FirstOffset()
	last, _ := st.buf.LastOffset()
	b := pendingBatch{first: first, last: last, records: st.buf.Drain()}

	topic, part := st.labels()
	telemetry.Flushes.WithLabelValues(topic, part).Inc()
	telemetry.BufferedBytes.WithLabelValues(topic, part).Set(0)

	start := time.Now()
	err := m.submitLocked(ctx, st, b)
	telemetry.FlushDuration.WithLabelValues(topic, part).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	telemetry.RecordsFlushed.WithLabelValues(topic, part).Add(float64(len(b.records)))
	return nil
}

// submitLocked writes the batch to the channel. Transient failures reopen
// the channel (next generation) and resubmit everything still unconfirmed
// from its first offset, within the retry budget. A schema mismatch evolves
// the destination once and resubmits once; a second mismatch escalates.
func (m *Manager) submitLocked(ctx context.Context, st *state, b pendingBatch) error {
	topic, part := st.labels()
	evolved := false
	attempt := 0
	for {
		if st.conn == nil {
			if err := m.openLocked(ctx, st); err != nil {
				return m.failLocked(st, err)
			}
			b = m.foldPendingLocked(st, b)
		}
		if len(b.records) == 0 {
			// the reopen's resume query proved the whole batch durable
			return nil
		}

		res, err := st.conn.Write(ctx, b.records)
		if err == nil {
			b.gen = st.gen
			if res.Pending {
				st.pending = append(st.pending, b)
			} else {
				st.confirm(st.gen, res.Confirmed)
				telemetry.CommittedOffset.WithLabelValues(topic, part).Set(float64(st.persisted))
			}
			return nil
		}

		var sm *channel.SchemaMismatchError
		if errors.As(err, &sm) {
			if evolved {
				return m.failLocked(st, fmt.Errorf("schema mismatch after destination evolution: %w", err))
			}
			if evErr := m.evolver.Evolve(ctx, st.key, err); evErr != nil {
				return m.failLocked(st, fmt.Errorf("destination evolution: %w", evErr))
			}
			evolved = true
			m.dropConnLocked(ctx, st)
			continue
		}

		if !channel.IsRetryable(err) {
			return m.failLocked(st, err)
		}
		attempt++
		telemetry.WriteRetries.WithLabelValues(topic, part).Inc()
		if attempt >= m.retry.MaxAttempts {
			return m.failLocked(st, fmt.Errorf("write retries exhausted after %d attempts: %w", attempt, err))
		}
		m.log.Warn("transient write failure, reopening channel",
			"partition", st.key.String(), "attempt", attempt, "error", err)
		if serr := sleepBackoff(ctx, attempt-1, m.retry.Backoff, m.retry.BackoffCap); serr != nil {
			return m.failLocked(st, serr)
		}
		m.dropConnLocked(ctx, st)
	}
}

// openLocked establishes a fresh channel generation, retrying transient open
// failures with backoff. On success the remote's resume offset resolves any
// pending batches it already covers.
func (m *Manager) openLocked(ctx context.Context, st *state) error {
	var lastErr error
	for attempt := 0; attempt < m.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt-1, m.retry.Backoff, m.retry.BackoffCap); err != nil {
				return err
			}
		}
		conn, resume, err := m.adapter.Open(ctx, st.key)
		if err != nil {
			lastErr = err
			if channel.IsRetryable(err) {
				continue
			}
			break
		}
		st.conn = conn
		st.gen++
		st.confirm(st.gen, resume)
		return nil
	}
	return fmt.Errorf("open channel: %w", lastErr)
}

// foldPendingLocked merges batches written on a superseded generation with
// the batch being submitted, dropping the prefix the resume query proved
// durable. Pending ranges and the current batch are contiguous by
// construction, so the result is one ordered batch.
func (m *Manager) foldPendingLocked(st *state, b pendingBatch) pendingBatch {
	if len(st.pending) > 0 {
		merged := make([]buffer.Record, 0, len(b.records))
		for _, p := range st.pending {
			merged = append(merged, p.records...)
		}
		merged = append(merged, b.records...)
		st.pending = nil
		b = pendingBatch{records: merged}
	}
	i := 0
	for i < len(b.records) && b.records[i].Offset <= st.persisted {
		i++
	}
	b.records = b.records[i:]
	if len(b.records) == 0 {
		return pendingBatch{}
	}
	b.first = b.records[0].Offset
	b.last = b.records[len(b.records)-1].Offset
	return b
}

func (m *Manager) dropConnLocked(ctx context.Context, st *state) {
	if st.conn != nil {
		_ = st.conn.Close(ctx)
		st.conn = nil
	}
}
