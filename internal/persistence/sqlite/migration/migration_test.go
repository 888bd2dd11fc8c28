package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(TempFileTestSQLiteConfig(filepath.Join(t.TempDir(), "migrations.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestScanner(t *testing.T) {
	t.Run("orders by numeric version", func(t *testing.T) {
		fsys := fstest.MapFS{
			"sql/010_late.sql":   {Data: []byte("CREATE TABLE late (id TEXT);")},
			"sql/002_second.sql": {Data: []byte("CREATE TABLE second (id TEXT);")},
			"sql/001_first.sql":  {Data: []byte("CREATE TABLE first (id TEXT);")},
			"sql/README.md":      {Data: []byte("ignored")},
		}

		migrations, err := NewScanner(fsys, "sql").ScanMigrations()
		require.NoError(t, err)
		require.Len(t, migrations, 3)
		assert.Equal(t, []string{"001", "002", "010"}, []string{migrations[0].Version, migrations[1].Version, migrations[2].Version})
		assert.Equal(t, "first", migrations[0].Description)
		assert.Equal(t, "sql/001_first.sql", migrations[0].FilePath)
		assert.Equal(t, Checksum([]byte("CREATE TABLE first (id TEXT);")), migrations[0].Checksum)
		assert.Len(t, migrations[0].Checksum, 64)
	})

	t.Run("rejects duplicate versions", func(t *testing.T) {
		fsys := fstest.MapFS{
			"001_a.sql": {Data: []byte("SELECT 1;")},
			"001_b.sql": {Data: []byte("SELECT 2;")},
		}
		_, err := NewScanner(fsys, "").ScanMigrations()
		assert.ErrorIs(t, err, ErrDuplicateVersion)
	})

	t.Run("rejects malformed and empty files", func(t *testing.T) {
		_, err := NewScanner(fstest.MapFS{"first.sql": {Data: []byte("SELECT 1;")}}, ".").ScanMigrations()
		assert.ErrorIs(t, err, ErrInvalidMigrationFile)

		_, err = NewScanner(fstest.MapFS{"001_empty.sql": {Data: []byte("  \n")}}, ".").ScanMigrations()
		assert.ErrorIs(t, err, ErrInvalidMigrationFile)
	})
}

func TestSplitStatements(t *testing.T) {
	body := `-- leading comment
CREATE TABLE a (id TEXT);

CREATE TRIGGER a_no_delete
BEFORE DELETE ON a
BEGIN
    SELECT RAISE(ABORT, 'no; really');
END;
INSERT INTO a (id) VALUES ('x');
`
	statements := splitStatements(body)
	require.Len(t, statements, 3)
	assert.Equal(t, "CREATE TABLE a (id TEXT)", statements[0])
	assert.Contains(t, statements[1], "SELECT RAISE(ABORT, 'no; really');")
	assert.Contains(t, statements[1], "END")
	assert.Equal(t, "INSERT INTO a (id) VALUES ('x')", statements[2])
}

func TestManager(t *testing.T) {
	ctx := context.Background()

	t.Run("applies pending migrations once", func(t *testing.T) {
		db := openTestDB(t)
		fsys := fstest.MapFS{
			"001_init.sql": {Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY);")},
			"002_seed.sql": {Data: []byte("INSERT INTO widgets (id) VALUES ('w1');")},
		}
		manager := NewManager(NewScanner(fsys, "."), NewExecutor(db), nil)

		require.NoError(t, manager.RunMigrations(ctx))
		require.NoError(t, manager.RunMigrations(ctx))

		var count int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM widgets`).Scan(&count))
		assert.Equal(t, 1, count)

		status, err := manager.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, "002", status.CurrentVersion)
		assert.Empty(t, status.Pending)
		assert.Len(t, status.Applied, 2)
	})

	t.Run("rolls back a failing migration", func(t *testing.T) {
		db := openTestDB(t)
		fsys := fstest.MapFS{
			"001_broken.sql": {Data: []byte("CREATE TABLE ok (id TEXT);\nINSERT INTO missing VALUES (1);")},
		}
		manager := NewManager(NewScanner(fsys, "."), NewExecutor(db), nil)

		err := manager.RunMigrations(ctx)
		require.ErrorIs(t, err, ErrMigrationFailed)

		var migErr *MigrationError
		require.ErrorAs(t, err, &migErr)
		assert.Equal(t, "001", migErr.Version)

		applied, err := NewExecutor(db).IsVersionApplied(ctx, "001")
		require.NoError(t, err)
		assert.False(t, applied)

		var name string
		err = db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'ok'`).Scan(&name)
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("detects edited migrations", func(t *testing.T) {
		db := openTestDB(t)
		original := fstest.MapFS{"001_init.sql": {Data: []byte("CREATE TABLE widgets (id TEXT);")}}
		require.NoError(t, NewManager(NewScanner(original, "."), NewExecutor(db), nil).RunMigrations(ctx))

		edited := fstest.MapFS{"001_init.sql": {Data: []byte("CREATE TABLE widgets (id TEXT, name TEXT);")}}
		err := NewManager(NewScanner(edited, "."), NewExecutor(db), nil).RunMigrations(ctx)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})
}

func TestSQLiteConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultSQLiteConfig("campus.db").Validate())
	assert.Error(t, SQLiteConfig{}.Validate())
	assert.Error(t, SQLiteConfig{DSN: "campus.db", JournalMode: "SIDEWAYS"}.Validate())
	assert.Error(t, SQLiteConfig{DSN: "campus.db", BusyTimeout: -1}.Validate())
}
