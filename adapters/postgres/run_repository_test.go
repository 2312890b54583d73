package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"gocdr/domain/core"
	"gocdr/internal/errors"
	"gocdr/internal/migration"
	"gocdr/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	raw, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// one connection, or every connection gets its own empty database
	raw.SetMaxOpenConns(1)
	db := sqlx.NewDb(raw, "sqlite3")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migration.NewRunner().Run(context.Background(), db))
	return db
}

func TestRunRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(newTestDB(t))

	run := models.NewTrainingRun(uuid.New(), "model-1", 50, map[string]interface{}{"optim_name": "Adam"})
	run.ModelDir = "/tmp/model"
	require.NoError(t, repo.CreateRun(ctx, run))

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "model-1", got.ModelID)
	assert.Equal(t, models.RunStatePending, got.State)
	assert.Equal(t, 50, got.Iterations)
	assert.Equal(t, "/tmp/model", got.ModelDir)
	assert.Equal(t, "Adam", got.Hyperparams["optim_name"])
	assert.WithinDuration(t, run.StartedAt, got.StartedAt, time.Second)
	assert.Nil(t, got.CompletedAt)
	assert.False(t, got.Error.Valid)
}

func TestRunRepository_GetMissing(t *testing.T) {
	repo := NewRunRepository(newTestDB(t))

	_, err := repo.GetRun(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRunNotFound)
	assert.True(t, core.IsNotFoundError(err))
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestRunRepository_ProgressAndState(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(newTestDB(t))
	run := models.NewTrainingRun(uuid.New(), "model-1", 10, nil)
	require.NoError(t, repo.CreateRun(ctx, run))

	require.NoError(t, repo.UpdateRunState(ctx, run.ID, models.RunStateRunning))
	require.NoError(t, repo.UpdateRunProgress(ctx, run.ID, 7, 0.75))

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateRunning, got.State)
	assert.Equal(t, int64(7), got.Step)
	assert.InDelta(t, 0.75, got.LastLoss, 1e-12)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, repo.UpdateRunState(ctx, run.ID, models.RunStateComplete))
	got, err = repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateComplete, got.State)
	assert.NotNil(t, got.CompletedAt)
}

func TestRunRepository_SetError(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(newTestDB(t))
	run := models.NewTrainingRun(uuid.New(), "model-1", 10, nil)
	require.NoError(t, repo.CreateRun(ctx, run))

	require.NoError(t, repo.SetRunError(ctx, run.ID, "non-finite loss"))
	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateError, got.State)
	assert.Equal(t, "non-finite loss", got.Error.String)
	assert.NotNil(t, got.CompletedAt)
}

func TestRunRepository_UpdateMissing(t *testing.T) {
	repo := NewRunRepository(newTestDB(t))

	err := repo.UpdateRunProgress(context.Background(), uuid.New(), 1, 1)
	assert.ErrorIs(t, err, core.ErrRunNotFound)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestRunRepository_DatabaseFailureIsCoded(t *testing.T) {
	db := newTestDB(t)
	repo := NewRunRepository(db)
	require.NoError(t, db.Close())

	_, err := repo.ListRuns(context.Background(), 5)
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseError, errors.GetCode(err))
}

func TestRunRepository_ListRuns(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(newTestDB(t))

	base := time.Now().UTC()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		run := models.NewTrainingRun(uuid.New(), "model-1", 10, nil)
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.CreateRun(ctx, run))
		ids = append(ids, run.ID)
	}

	all, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	limited, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
