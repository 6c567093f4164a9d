// Package store provides storage backends for KakeruBot.
//
// This file implements a PostgreSQL-backed store for profiles and logs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/KakeruBot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// postgresUpsertProfile merges non-NULL parameters into the stored row in one
// statement. Explicit casts let NULL parameters carry a type.
const postgresUpsertProfile = `
	INSERT INTO profiles (user_id, gender, relationship_status, feeling, plan, created_at, updated_at, last_active_at)
	VALUES ($1, $2::text, $3::text, $4::text, COALESCE($5::text, 'free'), $6, $6, $7::timestamptz)
	ON CONFLICT (user_id) DO UPDATE SET
		gender = COALESCE($2::text, profiles.gender),
		relationship_status = COALESCE($3::text, profiles.relationship_status),
		feeling = COALESCE($4::text, profiles.feeling),
		plan = COALESCE($5::text, profiles.plan),
		updated_at = $6,
		last_active_at = COALESCE($7::timestamptz, profiles.last_active_at)`

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, now: time.Now}, nil
}

// GetProfile retrieves a profile by user id. Returns nil, nil when not found.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetProfile not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	slog.Debug("PostgresStore GetProfile found", "userID", userID, "state", models.DeriveOnboardingState(&p))
	return &p, nil
}

// UpsertProfile inserts or merges a profile in a single statement.
func (s *PostgresStore) UpsertProfile(ctx context.Context, userID string, update models.ProfileUpdate) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	if err := update.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, postgresUpsertProfile,
		userID,
		nullableString(update.Gender),
		nullableString(update.RelationshipStatus),
		nullableString(update.Feeling),
		nullableString(update.Plan),
		s.now().UTC(),
		nullableTime(update.LastActiveAt))
	if err != nil {
		slog.Error("PostgresStore UpsertProfile failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to upsert profile %s: %w", userID, err)
	}
	slog.Debug("PostgresStore UpsertProfile succeeded", "userID", userID)
	return nil
}

// ListProfiles returns every profile ordered by user id.
func (s *PostgresStore) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY user_id`)
	if err != nil {
		slog.Error("PostgresStore ListProfiles query failed", "error", err)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			slog.Error("PostgresStore ListProfiles scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListProfiles rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}
	slog.Debug("PostgresStore ListProfiles succeeded", "count", len(profiles))
	return profiles, nil
}

// AppendLog inserts a single log row.
func (s *PostgresStore) AppendLog(ctx context.Context, entry models.LogEntry) error {
	entry, err := prepareLogEntry(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO logs (id, user_id, message, type, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.UserID, entry.Message, string(entry.Type), entry.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AppendLog failed", "error", err, "userID", entry.UserID, "type", entry.Type)
		return fmt.Errorf("failed to insert log for %s: %w", entry.UserID, err)
	}
	slog.Debug("PostgresStore AppendLog succeeded", "userID", entry.UserID, "type", entry.Type)
	return nil
}

// RecentLogs returns the newest rows for a user, newest first.
func (s *PostgresStore) RecentLogs(ctx context.Context, userID string, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM logs WHERE user_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`, userID, limit)
	if err != nil {
		slog.Error("PostgresStore RecentLogs query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query logs for %s: %w", userID, err)
	}
	defer rows.Close()
	entries, err := scanLogEntries(rows)
	if err != nil {
		slog.Error("PostgresStore RecentLogs scan failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("PostgresStore RecentLogs succeeded", "userID", userID, "count", len(entries))
	return entries, nil
}

// LogsSince returns every row created at or after since.
func (s *PostgresStore) LogsSince(ctx context.Context, since time.Time) ([]models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+logColumns+` FROM logs WHERE created_at >= $1`, since.UTC())
	if err != nil {
		slog.Error("PostgresStore LogsSince query failed", "error", err)
		return nil, fmt.Errorf("failed to query logs since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()
	entries, err := scanLogEntries(rows)
	if err != nil {
		slog.Error("PostgresStore LogsSince scan failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore LogsSince succeeded", "count", len(entries))
	return entries, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	} else {
		slog.Debug("PostgreSQL database connection closed successfully")
	}
	return err
}
