package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/campus-facilities/internal/persistence"
	"github.com/example/campus-facilities/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timestampLayout keeps stored timestamps lexically ordered.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Storage bundles the SQLite repositories over a single connection pool.
type Storage struct {
	*BookingRepository
	*ActivityLogRepository
	*FacilityRepository
	*ProfileRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

var (
	_ persistence.BookingRepository     = (*Storage)(nil)
	_ persistence.ActivityLogRepository = (*Storage)(nil)
	_ persistence.FacilityRepository    = (*Storage)(nil)
	_ persistence.ProfileRepository     = (*Storage)(nil)
)

// Open connects to the database described by config. Call Migrate before use.
func Open(config migration.SQLiteConfig, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}

	return &Storage{
		BookingRepository:     NewBookingRepository(pool),
		ActivityLogRepository: NewActivityLogRepository(pool),
		FacilityRepository:    NewFacilityRepository(pool),
		ProfileRepository:     NewProfileRepository(pool),
		pool:                  pool,
		logger:                logger,
	}, nil
}

// OpenPath opens a database file using the production defaults.
func OpenPath(path string, logger *slog.Logger) (*Storage, error) {
	return Open(migration.DefaultSQLiteConfig(path), logger)
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewScanner(migrationsFS, "migrations"),
		migration.NewExecutor(s.pool.DB()),
		s.logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(column, value string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	return t, nil
}

func nullableTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

func parseNullableTimestamp(column string, value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTimestamp(column, value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func stringPointer(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
