package postgres

import (
	"context"
	"fmt"
	"time"
)

// ddlBackupLog backs the nightly backup checkpoint entries written by the
// scheduler.
const ddlBackupLog = `
CREATE TABLE IF NOT EXISTS backup_log (
    id          BIGSERIAL    PRIMARY KEY,
    note        TEXT         NOT NULL DEFAULT '',
    marked_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlMemoryMetrics holds the rollup snapshots so growth is visible over
// time, not only at the moment someone looks.
const ddlMemoryMetrics = `
CREATE TABLE IF NOT EXISTS memory_metrics (
    id           BIGSERIAL    PRIMARY KEY,
    records      BIGINT       NOT NULL,
    queue_depth  BIGINT       NOT NULL,
    interactions BIGINT       NOT NULL,
    recorded_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Stats are coarse row counts for the hourly metric rollup.
type Stats struct {
	Records      int64
	QueueDepth   int64
	Interactions int64
}

// Stats returns current row counts across the three memory tables.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM memory_records),
			(SELECT count(*) FROM memory_queue),
			(SELECT count(*) FROM interactions)`)
	if err := row.Scan(&st.Records, &st.QueueDepth, &st.Interactions); err != nil {
		return Stats{}, fmt.Errorf("postgres store: stats: %w", err)
	}
	return st, nil
}

// RecordMetrics appends a rollup snapshot; run by the scheduler after
// each Stats read.
func (s *Store) RecordMetrics(ctx context.Context, st Stats) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO memory_metrics (records, queue_depth, interactions)
		VALUES ($1, $2, $3)`,
		st.Records, st.QueueDepth, st.Interactions,
	); err != nil {
		return fmt.Errorf("postgres store: record metrics: %w", err)
	}
	return nil
}

// MarkBackup appends a backup checkpoint row. The nightly scheduler job
// calls this so operators can verify the external backup cadence against
// the database's own record.
func (s *Store) MarkBackup(ctx context.Context, note string) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO backup_log (note, marked_at) VALUES ($1, $2)`,
		note, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("postgres store: mark backup: %w", err)
	}
	return nil
}
