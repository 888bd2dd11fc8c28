package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteConfig holds SQLite-specific database configuration
type SQLiteConfig struct {
	// DSN is the database file path or a file: URI
	DSN string

	// BusyTimeout sets how long to wait for database locks
	BusyTimeout time.Duration

	// EnableForeignKeys enables foreign key constraint checking
	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// MaxOpenConns sets the maximum number of open connections
	MaxOpenConns int

	// ConnMaxLifetime sets the maximum lifetime of connections
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns the production configuration for a database file.
func DefaultSQLiteConfig(databasePath string) SQLiteConfig {
	return SQLiteConfig{
		DSN:               databasePath,
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		MaxOpenConns:      1,
		ConnMaxLifetime:   time.Hour,
	}
}

// TempFileTestSQLiteConfig returns a configuration for tests backed by a temporary file.
func TempFileTestSQLiteConfig(tempFilePath string) SQLiteConfig {
	return SQLiteConfig{
		DSN:               tempFilePath,
		BusyTimeout:       time.Second,
		EnableForeignKeys: true,
		JournalMode:       "DELETE",
		MaxOpenConns:      1,
	}
}

// Validate reports configuration values that cannot produce a working connection.
func (c SQLiteConfig) Validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("DSN is required")
	}
	if c.BusyTimeout < 0 {
		return errors.New("busy timeout must not be negative")
	}
	if c.MaxOpenConns < 0 {
		return errors.New("max open connections must not be negative")
	}
	switch strings.ToUpper(c.JournalMode) {
	case "", "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
	default:
		return fmt.Errorf("unsupported journal mode %q", c.JournalMode)
	}
	return nil
}

// Open validates the configuration, creates the database directory and returns
// a pinged connection pool.
func Open(config SQLiteConfig) (*sql.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite configuration: %w", err)
	}

	if path := databaseFilePath(config.DSN); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", config.connectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return db, nil
}

// connectionString appends the configured pragmas using the driver's
// _pragma query parameters so every pooled connection receives them.
func (c SQLiteConfig) connectionString() string {
	base, rawQuery, _ := strings.Cut(c.DSN, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}

	if c.BusyTimeout > 0 {
		query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	}
	if c.EnableForeignKeys {
		query.Add("_pragma", "foreign_keys(1)")
	}
	if c.JournalMode != "" && databaseFilePath(c.DSN) != "" {
		query.Add("_pragma", fmt.Sprintf("journal_mode(%s)", strings.ToUpper(c.JournalMode)))
	}

	if len(query) == 0 {
		return base
	}
	return base + "?" + query.Encode()
}

// databaseFilePath returns the on-disk path referenced by dsn, or an empty
// string for in-memory databases.
func databaseFilePath(dsn string) string {
	path, _, _ := strings.Cut(dsn, "?")
	path = strings.TrimPrefix(path, "file:")
	if path == "" || strings.Contains(path, ":memory:") || strings.HasPrefix(dsn, "file::memory:") {
		return ""
	}
	return path
}
