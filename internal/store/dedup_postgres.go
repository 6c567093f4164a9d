package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) RecordEvent(ctx context.Context, eventID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, user_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING`,
		eventID, userID, s.now().UTC(),
	)
	if err != nil {
		slog.Error("PostgresStore RecordEvent failed", "error", err, "eventID", eventID)
		return false, fmt.Errorf("record event failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}
