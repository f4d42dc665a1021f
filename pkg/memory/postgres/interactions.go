package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-assistant/cortex/pkg/memory"
)

// InteractionStoreImpl is the interaction log backed by the interactions
// table.
//
// Obtain one via [Store.Interactions] rather than constructing directly.
// All methods are safe for concurrent use.
type InteractionStoreImpl struct {
	pool *pgxpool.Pool
}

// Append implements [memory.InteractionStore].
func (s *InteractionStoreImpl) Append(ctx context.Context, in memory.Interaction) error {
	const stmt = `
		INSERT INTO interactions
		    (id, user_id, session_id, channel, satellite_id, input, response,
		     matched_layer, latency_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, stmt,
		in.ID,
		in.UserID,
		in.SessionID,
		in.Channel,
		in.SatelliteID,
		in.Input,
		in.Response,
		in.MatchedLayer,
		int64(in.Latency),
		in.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("interaction store: append: %w", err)
	}
	return nil
}

// Recent implements [memory.InteractionStore]. Results are newest first.
func (s *InteractionStoreImpl) Recent(ctx context.Context, sessionID string, limit int) ([]memory.Interaction, error) {
	const stmt = `
		SELECT id, user_id, session_id, channel, satellite_id, input, response,
		       matched_layer, latency_ns, created_at
		FROM   interactions
		WHERE  session_id = $1
		ORDER  BY created_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, stmt, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("interaction store: recent: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Interaction, error) {
		var (
			in        memory.Interaction
			latencyNS int64
		)
		err := row.Scan(&in.ID, &in.UserID, &in.SessionID, &in.Channel,
			&in.SatelliteID, &in.Input, &in.Response, &in.MatchedLayer,
			&latencyNS, &in.CreatedAt)
		in.Latency = time.Duration(latencyNS)
		return in, err
	})
	if err != nil {
		return nil, fmt.Errorf("interaction store: scan rows: %w", err)
	}
	return out, nil
}
