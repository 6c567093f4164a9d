// Package store provides storage backends for KakeruBot.
//
// This file implements an SQLite-backed store for profiles and logs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/KakeruBot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// sqliteUpsertProfile merges non-NULL parameters into the stored row in one statement.
const sqliteUpsertProfile = `
	INSERT INTO profiles (user_id, gender, relationship_status, feeling, plan, created_at, updated_at, last_active_at)
	VALUES (?1, ?2, ?3, ?4, COALESCE(?5, 'free'), ?6, ?6, ?7)
	ON CONFLICT (user_id) DO UPDATE SET
		gender = COALESCE(?2, profiles.gender),
		relationship_status = COALESCE(?3, profiles.relationship_status),
		feeling = COALESCE(?4, profiles.feeling),
		plan = COALESCE(?5, profiles.plan),
		updated_at = ?6,
		last_active_at = COALESCE(?7, profiles.last_active_at)`

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dsn+sep+"_busy_timeout=5000")
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY between concurrent webhook requests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// GetProfile retrieves a profile by user id. Returns nil, nil when not found.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetProfile not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore GetProfile found", "userID", userID, "state", models.DeriveOnboardingState(&p))
	return &p, nil
}

// UpsertProfile inserts or merges a profile in a single statement.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, userID string, update models.ProfileUpdate) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	if err := update.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsertProfile,
		userID,
		nullableString(update.Gender),
		nullableString(update.RelationshipStatus),
		nullableString(update.Feeling),
		nullableString(update.Plan),
		s.now().UTC(),
		nullableTime(update.LastActiveAt))
	if err != nil {
		slog.Error("SQLiteStore UpsertProfile failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to upsert profile %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore UpsertProfile succeeded", "userID", userID)
	return nil
}

// ListProfiles returns every profile ordered by user id.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY user_id`)
	if err != nil {
		slog.Error("SQLiteStore ListProfiles query failed", "error", err)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			slog.Error("SQLiteStore ListProfiles scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListProfiles rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}
	slog.Debug("SQLiteStore ListProfiles succeeded", "count", len(profiles))
	return profiles, nil
}

// AppendLog inserts a single log row.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry models.LogEntry) error {
	entry, err := prepareLogEntry(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO logs (id, user_id, message, type, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Message, string(entry.Type), entry.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AppendLog failed", "error", err, "userID", entry.UserID, "type", entry.Type)
		return fmt.Errorf("failed to insert log for %s: %w", entry.UserID, err)
	}
	slog.Debug("SQLiteStore AppendLog succeeded", "userID", entry.UserID, "type", entry.Type)
	return nil
}

// RecentLogs returns the newest rows for a user, newest first.
func (s *SQLiteStore) RecentLogs(ctx context.Context, userID string, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM logs WHERE user_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?`, userID, limit)
	if err != nil {
		slog.Error("SQLiteStore RecentLogs query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query logs for %s: %w", userID, err)
	}
	defer rows.Close()
	entries, err := scanLogEntries(rows)
	if err != nil {
		slog.Error("SQLiteStore RecentLogs scan failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("SQLiteStore RecentLogs succeeded", "userID", userID, "count", len(entries))
	return entries, nil
}

// LogsSince returns every row created at or after since.
func (s *SQLiteStore) LogsSince(ctx context.Context, since time.Time) ([]models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+logColumns+` FROM logs WHERE created_at >= ?`, since.UTC())
	if err != nil {
		slog.Error("SQLiteStore LogsSince query failed", "error", err)
		return nil, fmt.Errorf("failed to query logs since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()
	entries, err := scanLogEntries(rows)
	if err != nil {
		slog.Error("SQLiteStore LogsSince scan failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore LogsSince succeeded", "count", len(entries))
	return entries, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
