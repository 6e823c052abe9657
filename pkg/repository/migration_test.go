package repository

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations_AddColumnsToExistingRows(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	// base schema alone is the pre-migration layout
	require.NoError(t, initSchema(ctx, db))

	_, err = db.ExecContext(ctx, `
		INSERT INTO channels (id, name, format, interval_minutes, created_at, updated_at)
		VALUES ('ch1', 'Old Channel', 'A', 60, '2024-01-01 00:00:00 +0000 UTC', '2024-01-01 00:00:00 +0000 UTC')`)
	require.NoError(t, err)

	for _, m := range columnMigrations {
		var count int
		err = db.GetContext(ctx, &count, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column)
		require.NoError(t, err)
		assert.Equal(t, 0, count, "%s.%s should not exist before migration", m.table, m.column)
	}

	require.NoError(t, runMigrations(ctx, db))

	for _, m := range columnMigrations {
		var count int
		err = db.GetContext(ctx, &count, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "%s.%s should exist after migration", m.table, m.column)
	}

	// existing row got the column default
	var flags string
	require.NoError(t, db.GetContext(ctx, &flags, `SELECT flags FROM channels WHERE id = 'ch1'`))
	assert.JSONEq(t, `{}`, flags)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	require.NoError(t, initSchema(ctx, db))
	require.NoError(t, runMigrations(ctx, db))

	snapshot := func() []string {
		var objs []string
		err := db.SelectContext(ctx, &objs, `SELECT type || ':' || name FROM sqlite_master ORDER BY type, name`)
		require.NoError(t, err)
		return objs
	}
	first := snapshot()

	require.NoError(t, initSchema(ctx, db))
	require.NoError(t, runMigrations(ctx, db), "migrations should be idempotent")
	assert.Equal(t, first, snapshot())

	var triggers int
	err = db.GetContext(ctx, &triggers, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger'`)
	require.NoError(t, err)
	assert.Equal(t, 4, triggers)
}

func TestSplitMigrationStatements(t *testing.T) {
	sql := `-- comment
CREATE INDEX IF NOT EXISTS a ON t(x);

CREATE TRIGGER IF NOT EXISTS trg
BEFORE UPDATE ON t
BEGIN
    SELECT RAISE(ABORT, 'no');
END;
CREATE INDEX IF NOT EXISTS b ON t(y);`

	stmts := splitMigrationStatements(sql)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS a ON t(x);", stmts[0])
	assert.Contains(t, stmts[1], "CREATE TRIGGER")
	assert.Contains(t, stmts[1], "END;")
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS b ON t(y);", stmts[2])
}
