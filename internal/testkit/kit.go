package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gocdr/domain/core"
	"gocdr/internal"
	"gocdr/internal/cdr"
	"gocdr/internal/config"
	"gocdr/models"
	"gocdr/ports"

	"github.com/google/uuid"
)

// SmallHyperparams returns a configuration small enough to train in tests.
func SmallHyperparams() config.Hyperparams {
	hp := config.DefaultHyperparams()
	hp.InputProjectionUnits = 4
	hp.RNNUnits = 4
	hp.IRFUnits = 4
	hp.InputProjectionLayers = 1
	hp.RNNLayers = 1
	hp.RNNTimeProjectionDepth = 1
	hp.IRFLayers = 1
	hp.LearningRate = 0.01
	hp.MinibatchSize = 16
	hp.NSupport = 50
	hp.Seed = 7
	return hp
}

// QuietLogger returns a logger that only reports errors.
func QuietLogger() *internal.Logger {
	return internal.NewLogger(internal.LogLevelError)
}

// NewFixtureModel builds a model over a freshly generated batch.
func NewFixtureModel(hp config.Hyperparams, gen ImpulseGeneratorConfig) (*cdr.Model, cdr.Batch, error) {
	b, summary, err := NewImpulseGenerator(gen).Fixture()
	if err != nil {
		return nil, cdr.Batch{}, err
	}
	m, err := cdr.New(hp, summary, QuietLogger())
	if err != nil {
		return nil, cdr.Batch{}, err
	}
	return m, b, nil
}

// InMemoryRunRepository implements RunRepository with in-memory storage
type InMemoryRunRepository struct {
	runs map[uuid.UUID]*models.TrainingRun
	mu   sync.RWMutex
}

var _ ports.RunRepository = (*InMemoryRunRepository)(nil)

func NewInMemoryRunRepository() *InMemoryRunRepository {
	return &InMemoryRunRepository{runs: make(map[uuid.UUID]*models.TrainingRun)}
}

func (s *InMemoryRunRepository) CreateRun(ctx context.Context, run *models.TrainingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}
	s.runs[run.ID] = clone(run)
	return nil
}

func (s *InMemoryRunRepository) GetRun(ctx context.Context, runID uuid.UUID) (*models.TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}
	return clone(run), nil
}

func (s *InMemoryRunRepository) UpdateRunProgress(ctx context.Context, runID uuid.UUID, step int64, loss float64) error {
	return s.update(runID, func(run *models.TrainingRun) { run.UpdateProgress(step, loss) })
}

func (s *InMemoryRunRepository) UpdateRunState(ctx context.Context, runID uuid.UUID, state models.RunState) error {
	return s.update(runID, func(run *models.TrainingRun) { run.SetState(state) })
}

func (s *InMemoryRunRepository) SetRunError(ctx context.Context, runID uuid.UUID, errorMsg string) error {
	return s.update(runID, func(run *models.TrainingRun) { run.SetError(errorMsg) })
}

func (s *InMemoryRunRepository) ListRuns(ctx context.Context, limit int) ([]*models.TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*models.TrainingRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, clone(run))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *InMemoryRunRepository) update(runID uuid.UUID, fn func(*models.TrainingRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}
	fn(run)
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// clone copies the persisted fields so callers cannot mutate stored runs.
func clone(run *models.TrainingRun) *models.TrainingRun {
	c := models.NewTrainingRun(run.ID, run.ModelID, run.Iterations, run.Hyperparams)
	c.State = run.State
	c.Step = run.Step
	c.LastLoss = run.LastLoss
	c.ModelDir = run.ModelDir
	c.StartedAt = run.StartedAt
	c.CompletedAt = run.CompletedAt
	c.Error = run.Error
	c.CreatedAt = run.CreatedAt
	c.UpdatedAt = run.UpdatedAt
	return c
}
