package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Manager orchestrates scanning and applying migrations.
type Manager struct {
	scanner  *Scanner
	executor *Executor
	logger   *slog.Logger
}

// NewManager creates a migration manager. A nil logger falls back to slog.Default.
func NewManager(scanner *Scanner, executor *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scanner: scanner, executor: executor, logger: logger.With("component", "migration")}
}

// RunMigrations applies all pending migrations in version order. Applied
// migrations whose file checksum changed abort the run with ErrChecksumMismatch.
func (m *Manager) RunMigrations(ctx context.Context) error {
	start := time.Now()

	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		m.logger.ErrorContext(ctx, "failed to initialize schema_migrations table", "error", err)
		return fmt.Errorf("failed to initialize version table: %w", err)
	}

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "migration status",
		"current_version", status.CurrentVersion,
		"applied_count", len(status.Applied),
		"pending_count", len(status.Pending),
	)

	for i, migration := range status.Pending {
		migrationStart := time.Now()
		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			m.logger.ErrorContext(ctx, "migration failed",
				"version", migration.Version,
				"description", migration.Description,
				"error", err,
			)
			return err
		}
		m.logger.InfoContext(ctx, "migration applied",
			"version", migration.Version,
			"description", migration.Description,
			"position", fmt.Sprintf("%d/%d", i+1, len(status.Pending)),
			"duration", time.Since(migrationStart),
		)
	}

	if len(status.Pending) > 0 {
		m.logger.InfoContext(ctx, "migrations completed", "applied", len(status.Pending), "duration", time.Since(start))
	}
	return nil
}

// Status compares the migration files with the schema_migrations table.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	migrations, err := m.scanner.ScanMigrations()
	if err != nil {
		return nil, err
	}

	applied, err := m.executor.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]AppliedMigration, len(applied))
	for _, item := range applied {
		byVersion[item.Version] = item
	}

	status := &Status{Applied: applied}
	if len(applied) > 0 {
		status.CurrentVersion = applied[len(applied)-1].Version
	}

	for _, migration := range migrations {
		record, ok := byVersion[migration.Version]
		if !ok {
			status.Pending = append(status.Pending, migration)
			continue
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			return nil, newMigrationError(migration.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}

	return status, nil
}
