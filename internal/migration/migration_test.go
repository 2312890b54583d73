package migration

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestRunner_CreatesTrainingRunsIdempotently(t *testing.T) {
	raw, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	raw.SetMaxOpenConns(1)
	db := sqlx.NewDb(raw, "sqlite3")
	defer db.Close()

	ctx := context.Background()
	runner := NewRunner()
	require.NoError(t, runner.Run(ctx, db))
	require.NoError(t, runner.Run(ctx, db))

	var count int
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM training_runs`))
	assert.Equal(t, 0, count)
	assert.Equal(t, "1.0.0", runner.Version())
}

func TestDialectFor(t *testing.T) {
	pg := sqlx.NewDb(&sql.DB{}, "postgres")
	assert.Equal(t, "JSONB", dialectFor(pg).json)
	assert.Equal(t, "TIMESTAMP WITH TIME ZONE", dialectFor(pg).timestamp)

	lite := sqlx.NewDb(&sql.DB{}, "sqlite3")
	assert.Equal(t, "TIMESTAMP", dialectFor(lite).timestamp)
}
