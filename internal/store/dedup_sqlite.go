package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) RecordEvent(ctx context.Context, eventID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO webhook_events (event_id, user_id, received_at) VALUES (?, ?, ?)`,
		eventID, userID, s.now().UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore RecordEvent failed", "error", err, "eventID", eventID)
		return false, fmt.Errorf("record event failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}
