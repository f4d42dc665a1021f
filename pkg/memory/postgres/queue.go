package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-assistant/cortex/pkg/memory"
)

// QueueImpl is the persisted COLD extraction queue backed by the
// memory_queue table. Rows survive restarts, so extraction events enqueued
// before a crash are replayed on the next start.
//
// Obtain one via [Store.Queue] rather than constructing directly.
// All methods are safe for concurrent use.
type QueueImpl struct {
	pool *pgxpool.Pool
}

// Enqueue implements [memory.Queue].
func (q *QueueImpl) Enqueue(ctx context.Context, ev memory.Event) error {
	const stmt = `
		INSERT INTO memory_queue (interaction_id, user_id, session_id, text, enqueued_at)
		VALUES ($1, $2, $3, $4, $5)`

	at := ev.EnqueuedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := q.pool.Exec(ctx, stmt,
		ev.InteractionID, ev.UserID, ev.SessionID, ev.Text, at)
	if err != nil {
		return fmt.Errorf("memory queue: enqueue: %w", err)
	}
	return nil
}

// Dequeue implements [memory.Queue]. Events are returned oldest first so
// per-user ordering holds as long as a single consumer drains the queue.
func (q *QueueImpl) Dequeue(ctx context.Context, limit int) ([]memory.Event, error) {
	const stmt = `
		SELECT id, interaction_id, user_id, session_id, text, attempts, enqueued_at
		FROM   memory_queue
		ORDER  BY id
		LIMIT  $1`

	rows, err := q.pool.Query(ctx, stmt, limit)
	if err != nil {
		return nil, fmt.Errorf("memory queue: dequeue: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Event, error) {
		var ev memory.Event
		err := row.Scan(&ev.ID, &ev.InteractionID, &ev.UserID, &ev.SessionID,
			&ev.Text, &ev.Attempts, &ev.EnqueuedAt)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("memory queue: scan rows: %w", err)
	}
	return events, nil
}

// Ack implements [memory.Queue].
func (q *QueueImpl) Ack(ctx context.Context, id int64) error {
	if _, err := q.pool.Exec(ctx, `DELETE FROM memory_queue WHERE id = $1`, id); err != nil {
		return fmt.Errorf("memory queue: ack: %w", err)
	}
	return nil
}

// Nack implements [memory.Queue].
func (q *QueueImpl) Nack(ctx context.Context, id int64) error {
	if _, err := q.pool.Exec(ctx, `UPDATE memory_queue SET attempts = attempts + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("memory queue: nack: %w", err)
	}
	return nil
}
