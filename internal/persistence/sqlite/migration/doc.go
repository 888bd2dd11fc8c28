// Package migration applies versioned SQL migrations to SQLite databases.
//
// Migrations are read from an fs.FS (usually an embedded directory) and must
// follow the naming convention {version}_{description}.sql, for example
// "001_initial_schema.sql". Each file runs inside its own transaction and is
// recorded in the schema_migrations table together with its checksum, so a
// file that changes after it was applied is reported instead of re-run.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(migrationsFS, "migrations"), migration.NewExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
