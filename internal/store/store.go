// Package store provides storage backends for KakeruBot.
//
// It includes an in-memory store used by tests and local runs, and persistent
// SQLite and PostgreSQL stores for profiles and the conversation log.
package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/KakeruBot/internal/models"
	"github.com/google/uuid"
)

// Store is the persistence gateway for profiles and conversation logs.
type Store interface {
	// GetProfile returns the profile for userID, or nil and no error when absent.
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	// UpsertProfile atomically merges the non-nil fields of update into the
	// stored profile, creating it with defaults when absent.
	UpsertProfile(ctx context.Context, userID string, update models.ProfileUpdate) error
	// ListProfiles returns every stored profile.
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	// AppendLog inserts one log row.
	AppendLog(ctx context.Context, entry models.LogEntry) error
	// RecentLogs returns at most limit rows for userID, newest first.
	RecentLogs(ctx context.Context, userID string, limit int) ([]models.LogEntry, error)
	// LogsSince returns all rows created at or after since, in no particular order.
	LogsSince(ctx context.Context, since time.Time) ([]models.LogEntry, error)
	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore opens the backend matching the configured DSN. Without a DSN the
// data lives in memory and is lost on restart.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Warn("store.NewStore: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		slog.Debug("store.NewStore: using PostgreSQL backend")
		return NewPostgresStore(opts...)
	default:
		slog.Debug("store.NewStore: using SQLite backend", "db_path", cfg.DSN)
		return NewSQLiteStore(opts...)
	}
}

// prepareLogEntry fills defaults and caps the message before insertion.
func prepareLogEntry(entry models.LogEntry) (models.LogEntry, error) {
	if err := entry.Validate(); err != nil {
		return entry, err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.Message = models.Truncate(entry.Message, models.MaxLogMessageLength)
	return entry, nil
}

// InMemoryStore is a simple in-memory store, safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
	logs     []models.LogEntry
	events   map[string]time.Time
	now      func() time.Time
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]models.Profile),
		events:   make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *InMemoryStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) UpsertProfile(ctx context.Context, userID string, update models.ProfileUpdate) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	if err := update.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	p, ok := s.profiles[userID]
	if !ok {
		p = models.Profile{UserID: userID, Plan: models.PlanFree, CreatedAt: now}
	}
	p = update.Apply(p)
	p.UpdatedAt = now
	s.profiles[userID] = p
	return nil
}

func (s *InMemoryStore) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profiles := make([]models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].UserID < profiles[j].UserID })
	return profiles, nil
}

func (s *InMemoryStore) AppendLog(ctx context.Context, entry models.LogEntry) error {
	entry, err := prepareLogEntry(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *InMemoryStore) RecentLogs(ctx context.Context, userID string, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LogEntry
	// Insertion order breaks created_at ties, so walk backwards.
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].UserID == userID {
			out = append(out, s.logs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) LogsSince(ctx context.Context, since time.Time) ([]models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LogEntry
	for _, e := range s.logs {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Logs returns a copy of every stored log row in insertion order (for tests).
func (s *InMemoryStore) Logs() []models.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *InMemoryStore) Close() error {
	return nil
}
