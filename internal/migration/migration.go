package migration

import (
	"context"
	"fmt"

	"gocdr/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createTrainingRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create training_runs table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

// dialect holds the column types that differ between Postgres and SQLite.
type dialect struct {
	timestamp string
	json      string
}

func dialectFor(db *sqlx.DB) dialect {
	switch db.DriverName() {
	case "postgres", "pgx":
		return dialect{timestamp: "TIMESTAMP WITH TIME ZONE", json: "JSONB"}
	default:
		return dialect{timestamp: "TIMESTAMP", json: "TEXT"}
	}
}

func (r *MigrationRunner) createTrainingRunsTable(ctx context.Context, db *sqlx.DB) error {
	d := dialectFor(db)
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS training_runs (
			id UUID PRIMARY KEY,
			model_id VARCHAR(64) NOT NULL,
			state VARCHAR(32) NOT NULL,
			step BIGINT NOT NULL DEFAULT 0,
			iterations INTEGER NOT NULL DEFAULT 0,
			last_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
			model_dir TEXT NOT NULL DEFAULT '',
			hyperparams %s,
			started_at %s NOT NULL,
			completed_at %s,
			error_message TEXT,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)
	`, d.json, d.timestamp, d.timestamp, d.timestamp, d.timestamp))
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_training_runs_model_id ON training_runs(model_id)`,
		`CREATE INDEX IF NOT EXISTS idx_training_runs_started_at ON training_runs(started_at)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
