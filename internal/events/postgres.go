package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresNotifier appends events to the completion_events table.
type PostgresNotifier struct {
	pool *pgxpool.Pool
}

func NewPostgresNotifier(pool *pgxpool.Pool) *PostgresNotifier {
	return &PostgresNotifier{pool: pool}
}

func (n *PostgresNotifier) Notify(ctx context.Context, c Completion) error {
	if n == nil || n.pool == nil {
		return fmt.Errorf("event notifier pool is nil")
	}
	if c.Type == "" {
		return fmt.Errorf("event type is required")
	}

	data, err := json.Marshal(c.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = n.pool.Exec(ctx,
		`INSERT INTO completion_events (block_id, completed, score, max_score, data, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		c.BlockID,
		c.Completed,
		c.Score,
		c.MaxScore,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert completion event: %w", err)
	}

	slog.Debug("completion event logged", "block_id", c.BlockID, "completed", c.Completed)
	return nil
}
