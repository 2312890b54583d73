package ports

import (
	"context"

	"gocdr/models"

	"github.com/google/uuid"
)

// RunRepository defines the interface for training-run registry operations
type RunRepository interface {
	// CreateRun records a new run in the pending state
	CreateRun(ctx context.Context, run *models.TrainingRun) error

	// GetRun retrieves a run by ID
	GetRun(ctx context.Context, runID uuid.UUID) (*models.TrainingRun, error)

	// UpdateRunProgress records the latest step and loss of a running fit
	UpdateRunProgress(ctx context.Context, runID uuid.UUID, step int64, loss float64) error

	// UpdateRunState moves a run to a new state, setting completed_at for terminal states
	UpdateRunState(ctx context.Context, runID uuid.UUID, state models.RunState) error

	// SetRunError marks a run failed with a message
	SetRunError(ctx context.Context, runID uuid.UUID, errorMsg string) error

	// ListRuns returns runs newest first, optionally limited
	ListRuns(ctx context.Context, limit int) ([]*models.TrainingRun, error)
}
