package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"gocdr/domain/core"
	"gocdr/internal/errors"
	"gocdr/models"
	"gocdr/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const runColumns = `id, model_id, state, step, iterations, last_loss, model_dir, hyperparams, started_at, completed_at, error_message, created_at, updated_at`

// RunRepositoryImpl implements RunRepository over sqlx. Queries are written
// with ? placeholders and rebound for the connected driver.
type RunRepositoryImpl struct {
	db *sqlx.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sqlx.DB) ports.RunRepository {
	return &RunRepositoryImpl{db: db}
}

// CreateRun records a new run in the pending state
func (r *RunRepositoryImpl) CreateRun(ctx context.Context, run *models.TrainingRun) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO training_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), run.ID, run.ModelID, run.State, run.Step, run.Iterations, run.LastLoss, run.ModelDir,
		run.Hyperparams, run.StartedAt, run.CompletedAt, run.Error, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return errors.DatabaseError(fmt.Sprintf("insert run %s", run.ID), err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *RunRepositoryImpl) GetRun(ctx context.Context, runID uuid.UUID) (*models.TrainingRun, error) {
	var run models.TrainingRun
	err := r.db.GetContext(ctx, &run, r.db.Rebind(`
		SELECT `+runColumns+`
		FROM training_runs
		WHERE id = ?
	`), runID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, runNotFound(runID)
	}
	if err != nil {
		return nil, errors.DatabaseError(fmt.Sprintf("get run %s", runID), err)
	}
	return &run, nil
}

// UpdateRunProgress records the latest step and loss of a running fit
func (r *RunRepositoryImpl) UpdateRunProgress(ctx context.Context, runID uuid.UUID, step int64, loss float64) error {
	return r.exec(ctx, runID, `
		UPDATE training_runs
		SET step = ?, last_loss = ?, updated_at = ?
		WHERE id = ?
	`, step, loss, time.Now().UTC(), runID)
}

// UpdateRunState moves a run to a new state
func (r *RunRepositoryImpl) UpdateRunState(ctx context.Context, runID uuid.UUID, state models.RunState) error {
	now := time.Now().UTC()
	var completedAt interface{}
	if state.IsTerminal() {
		completedAt = now
	}
	return r.exec(ctx, runID, `
		UPDATE training_runs
		SET state = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, state, completedAt, now, runID)
}

// SetRunError marks a run failed with a message
func (r *RunRepositoryImpl) SetRunError(ctx context.Context, runID uuid.UUID, errorMsg string) error {
	now := time.Now().UTC()
	return r.exec(ctx, runID, `
		UPDATE training_runs
		SET state = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, models.RunStateError, errorMsg, now, now, runID)
}

// ListRuns returns runs newest first, optionally limited
func (r *RunRepositoryImpl) ListRuns(ctx context.Context, limit int) ([]*models.TrainingRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM training_runs
		ORDER BY started_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var runs []*models.TrainingRun
	if err := r.db.SelectContext(ctx, &runs, r.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseError("list runs", err)
	}
	return runs, nil
}

func (r *RunRepositoryImpl) exec(ctx context.Context, runID uuid.UUID, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return errors.DatabaseError(fmt.Sprintf("update run %s", runID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.DatabaseError(fmt.Sprintf("update run %s", runID), err)
	}
	if n == 0 {
		return runNotFound(runID)
	}
	return nil
}

// runNotFound is a NOT_FOUND application error that still matches
// core.ErrRunNotFound.
func runNotFound(runID uuid.UUID) error {
	e := errors.NotFound("run " + runID.String())
	e.Cause = core.ErrRunNotFound
	return e
}
