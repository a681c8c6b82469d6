// Durable location queue with at-least-once drain semantics
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"responderd/internal/telemetry"
)

const (
	enqueueRetries    = 3
	enqueueRetryDelay = 100 * time.Millisecond
)

// Stats summarizes the queue contents. Oldest/Newest are capture
// timestamps in epoch milliseconds and nil when the queue is empty.
type Stats struct {
	Count  int    `json:"count"`
	Oldest *int64 `json:"oldestTimestamp"`
	Newest *int64 `json:"newestTimestamp"`
}

// BatchResult reports the outcome of a PeekAndDelete call.
type BatchResult struct {
	Success bool
	Count   int
}

// BatchHandler delivers a batch to its destination and reports whether the
// batch was acknowledged. Entries are deleted only on a true return.
type BatchHandler func(ctx context.Context, entries []telemetry.QueueEntry) bool

// Queue is the durable, sequence-ordered store of location samples.
// The sequence counter is owned by a single Queue instance per process;
// concurrent Enqueue calls serialize around it.
type Queue struct {
	store  *Store
	logger *slog.Logger

	mu  sync.Mutex
	seq int64
}

// New returns a Queue over store with its sequence counter re-seeded from
// the persisted maximum (0 when the table is empty).
func New(store *Store, logger *slog.Logger) (*Queue, error) {
	q := &Queue{store: store, logger: logger.With("component", "queue")}

	var max sql.NullInt64
	if err := store.db.QueryRow("SELECT MAX(sequence) FROM location_queue").Scan(&max); err != nil {
		return nil, fmt.Errorf("seeding sequence counter: %w", err)
	}
	if max.Valid {
		q.seq = max.Int64
	}
	q.logger.Info("sequence initialized", "sequence", q.seq)
	return q, nil
}

// Enqueue appends samples to the queue, assigning each a strictly
// increasing sequence number. A transient insert failure is retried up to
// three times with a fixed delay; after that the call fails and the caller
// must treat the sample as lost for this attempt.
func (q *Queue) Enqueue(ctx context.Context, samples []telemetry.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UnixMilli()
	for _, s := range samples {
		q.seq++
		if err := q.insertWithRetry(ctx, s, q.seq, now); err != nil {
			return err
		}
	}

	q.logger.Debug("enqueued", "count", len(samples))
	return nil
}

func (q *Queue) insertWithRetry(ctx context.Context, s telemetry.Sample, seq, createdAt int64) error {
	var err error
	for attempt := 1; attempt <= enqueueRetries; attempt++ {
		_, err = q.store.db.ExecContext(ctx,
			`INSERT INTO location_queue
			 (latitude, longitude, accuracy, altitude, timestamp, sequence, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.Latitude, s.Longitude, s.Accuracy, s.Altitude, s.Timestamp, seq, createdAt)
		if err == nil {
			return nil
		}
		if attempt < enqueueRetries {
			q.logger.Warn("enqueue insert failed, retrying", "attempt", attempt, "err", err)
			select {
			case <-time.After(enqueueRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	q.logger.Error("enqueue failed after retries", "sequence", seq, "err", err)
	return fmt.Errorf("inserting sample (seq %d): %w", seq, err)
}

// Peek returns up to limit oldest entries in ascending sequence order.
func (q *Queue) Peek(ctx context.Context, limit int) ([]telemetry.QueueEntry, error) {
	rows, err := q.store.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, accuracy, altitude, timestamp, sequence, created_at
		 FROM location_queue ORDER BY sequence ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("peeking queue: %w", err)
	}
	defer rows.Close()

	var entries []telemetry.QueueEntry
	for rows.Next() {
		var e telemetry.QueueEntry
		if err := rows.Scan(&e.ID, &e.Latitude, &e.Longitude, &e.Accuracy, &e.Altitude,
			&e.Timestamp, &e.Sequence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteByIDs removes entries by storage id. Idempotent; no-op on empty input.
func (q *Queue) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := q.store.db.ExecContext(ctx,
		"DELETE FROM location_queue WHERE id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("deleting queue entries: %w", err)
	}

	q.logger.Debug("deleted", "count", len(ids))
	return nil
}

// PeekAndDelete peeks up to limit oldest entries, hands them to handler,
// and deletes them only if handler reports true. Peek and delete are two
// independent operations: a crash between a successful send and the delete
// commit redelivers the same entries on the next run. That is the intended
// at-least-once contract; entries are never lost on the happy path.
func (q *Queue) PeekAndDelete(ctx context.Context, limit int, handler BatchHandler) (BatchResult, error) {
	entries, err := q.Peek(ctx, limit)
	if err != nil {
		return BatchResult{}, err
	}
	if len(entries) == 0 {
		return BatchResult{Success: true, Count: 0}, nil
	}

	if !handler(ctx, entries) {
		return BatchResult{Success: false, Count: 0}, nil
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := q.DeleteByIDs(ctx, ids); err != nil {
		return BatchResult{}, err
	}

	q.logger.Debug("synced and deleted", "count", len(entries))
	return BatchResult{Success: true, Count: len(entries)}, nil
}

// Stats returns aggregate counts and capture-timestamp bounds.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var (
		count          int
		oldest, newest sql.NullInt64
	)
	err := q.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM location_queue").
		Scan(&count, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("querying queue stats: %w", err)
	}

	st := Stats{Count: count}
	if oldest.Valid {
		st.Oldest = &oldest.Int64
	}
	if newest.Valid {
		st.Newest = &newest.Int64
	}
	return st, nil
}

// Clear deletes all entries and resets the in-memory sequence counter.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.store.db.ExecContext(ctx, "DELETE FROM location_queue"); err != nil {
		return fmt.Errorf("clearing queue: %w", err)
	}
	q.seq = 0
	q.logger.Info("queue cleared")
	return nil
}
