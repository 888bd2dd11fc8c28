package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Executor runs migrations and maintains the schema_migrations table.
type Executor struct {
	db  *sql.DB
	now func() time.Time
}

// NewExecutor creates a new SQLite migration executor
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db, now: time.Now}
}

// InitializeVersionTable creates the schema_migrations table if it doesn't exist
func (e *Executor) InitializeVersionTable(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT NOT NULL,
			execution_time_ms INTEGER NOT NULL DEFAULT 0
		)
	`
	if _, err := e.db.ExecContext(ctx, createTableSQL); err != nil {
		return newMigrationError("", "", "create schema_migrations table", err)
	}
	return nil
}

// ExecuteMigration runs a single migration and records it within one transaction
func (e *Executor) ExecuteMigration(ctx context.Context, migration Migration) (err error) {
	start := e.now()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return newMigrationError(migration.Version, migration.FilePath, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	statements := splitStatements(migration.SQL)
	if len(statements) == 0 {
		err = newMigrationError(migration.Version, migration.FilePath, "parse SQL",
			fmt.Errorf("%w: no SQL statements found", ErrInvalidMigrationFile))
		return err
	}

	for i, stmt := range statements {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			err = newMigrationError(migration.Version, migration.FilePath,
				fmt.Sprintf("execute statement %d", i+1), fmt.Errorf("%w: %v", ErrMigrationFailed, execErr))
			return err
		}
	}

	elapsed := e.now().Sub(start)
	if _, execErr := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`,
		migration.Version, e.now().UTC().Format(time.RFC3339Nano), migration.Checksum, elapsed.Milliseconds(),
	); execErr != nil {
		err = newMigrationError(migration.Version, migration.FilePath, "record migration", execErr)
		return err
	}

	if err = tx.Commit(); err != nil {
		return newMigrationError(migration.Version, migration.FilePath, "commit transaction", err)
	}
	return nil
}

// AppliedMigrations returns all applied migrations ordered by version
func (e *Executor) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT version, applied_at, checksum, execution_time_ms FROM schema_migrations ORDER BY CAST(version AS INTEGER) ASC`)
	if err != nil {
		return nil, newMigrationError("", "", "list applied migrations", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			item      AppliedMigration
			appliedAt string
			elapsedMs int64
		)
		if err := rows.Scan(&item.Version, &appliedAt, &item.Checksum, &elapsedMs); err != nil {
			return nil, newMigrationError("", "", "scan applied migration", err)
		}
		if item.AppliedAt, err = time.Parse(time.RFC3339Nano, appliedAt); err != nil {
			return nil, newMigrationError(item.Version, "", "parse applied_at", err)
		}
		item.ExecutionTime = time.Duration(elapsedMs) * time.Millisecond
		applied = append(applied, item)
	}
	if err := rows.Err(); err != nil {
		return nil, newMigrationError("", "", "list applied migrations", err)
	}
	return applied, nil
}

// IsVersionApplied checks if a specific migration version has been applied
func (e *Executor) IsVersionApplied(ctx context.Context, version string) (bool, error) {
	var exists int
	err := e.db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ? LIMIT 1`, version).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, newMigrationError(version, "", "check version applied", err)
	}
	return true, nil
}

// splitStatements breaks a migration body into statements. Statements end
// with a semicolon at the end of a line; trigger bodies between a trailing
// BEGIN and a closing END; line are kept whole. Comment lines are dropped.
func splitStatements(body string) []string {
	var (
		statements []string
		current    strings.Builder
		inBlock    bool
	)

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasSuffix(upper, "BEGIN"):
			inBlock = true
		case inBlock:
			if upper == "END;" || upper == "END" {
				inBlock = false
				flush()
			}
		case strings.HasSuffix(trimmed, ";"):
			flush()
		}
	}
	flush()

	return statements
}
