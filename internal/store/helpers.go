package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BTreeMap/KakeruBot/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// profileColumns is the column list shared by every profile SELECT.
const profileColumns = `user_id, gender, relationship_status, feeling, plan, created_at, updated_at, last_active_at`

// logColumns is the column list shared by every log SELECT.
const logColumns = `id, user_id, message, type, created_at`

// nullableString returns nil for a nil pointer, otherwise the string value.
// Used for COALESCE-merged nullable columns.
func nullableString[T ~string](v *T) interface{} {
	if v == nil {
		return nil
	}
	return string(*v)
}

// nullableTime returns nil for a nil pointer, otherwise the UTC time.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// scanProfile scans a Profile from a row produced with profileColumns.
func scanProfile(row rowScanner) (models.Profile, error) {
	var p models.Profile
	var gender, status, feeling sql.NullString
	var lastActive sql.NullTime
	err := row.Scan(&p.UserID, &gender, &status, &feeling, &p.Plan, &p.CreatedAt, &p.UpdatedAt, &lastActive)
	if err != nil {
		return p, err
	}
	p.Gender = models.Gender(gender.String)
	p.RelationshipStatus = models.RelationshipStatus(status.String)
	p.Feeling = feeling.String
	if lastActive.Valid {
		t := lastActive.Time
		p.LastActiveAt = &t
	}
	return p, nil
}

// scanLogEntries scans all rows produced with logColumns.
func scanLogEntries(rows *sql.Rows) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Message, &e.Type, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry failed: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log rows failed: %w", err)
	}
	return entries, nil
}
