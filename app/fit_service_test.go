package app

import (
	"context"
	"errors"
	"testing"

	"gocdr/adapters/rng"
	"gocdr/domain/core"
	"gocdr/internal/cdr"
	"gocdr/internal/testkit"
	"gocdr/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRunRepository records calls made by the fit service
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) CreateRun(ctx context.Context, run *models.TrainingRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunRepository) GetRun(ctx context.Context, runID uuid.UUID) (*models.TrainingRun, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(*models.TrainingRun), args.Error(1)
}

func (m *MockRunRepository) UpdateRunProgress(ctx context.Context, runID uuid.UUID, step int64, loss float64) error {
	args := m.Called(ctx, runID, step, loss)
	return args.Error(0)
}

func (m *MockRunRepository) UpdateRunState(ctx context.Context, runID uuid.UUID, state models.RunState) error {
	args := m.Called(ctx, runID, state)
	return args.Error(0)
}

func (m *MockRunRepository) SetRunError(ctx context.Context, runID uuid.UUID, errorMsg string) error {
	args := m.Called(ctx, runID, errorMsg)
	return args.Error(0)
}

func (m *MockRunRepository) ListRuns(ctx context.Context, limit int) ([]*models.TrainingRun, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*models.TrainingRun), args.Error(1)
}

func fixture(t *testing.T) (*cdr.Model, cdr.Batch) {
	t.Helper()
	m, b, err := testkit.NewFixtureModel(testkit.SmallHyperparams(), testkit.DefaultImpulseConfig())
	require.NoError(t, err)
	return m, b
}

func TestFitService_RecordsRunLifecycle(t *testing.T) {
	m, b := fixture(t)
	repo := new(MockRunRepository)
	repo.On("CreateRun", mock.Anything, mock.MatchedBy(func(r *models.TrainingRun) bool {
		return r.ModelID == m.ID().String() && r.Iterations == 2 && r.State == models.RunStatePending
	})).Return(nil)
	repo.On("UpdateRunState", mock.Anything, mock.Anything, models.RunStateRunning).Return(nil)
	repo.On("UpdateRunProgress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	repo.On("UpdateRunState", mock.Anything, mock.Anything, models.RunStateComplete).Return(nil)

	svc := NewFitService(repo, rng.NewStreams(), testkit.QuietLogger())
	res, err := svc.Fit(context.Background(), FitRequest{Model: m, Data: b, Epochs: 2, LogEvery: 1})
	require.NoError(t, err)

	// 64 observations in minibatches of 16
	assert.Equal(t, int64(8), res.Step)
	assert.Len(t, res.Epochs, 2)
	assert.Equal(t, m.ID(), res.ModelID)
	assert.False(t, res.Fingerprint.IsEmpty())
	repo.AssertExpectations(t)
	repo.AssertNumberOfCalls(t, "UpdateRunProgress", 2)
}

func TestFitService_CreateRunFailure(t *testing.T) {
	m, b := fixture(t)
	repo := new(MockRunRepository)
	repo.On("CreateRun", mock.Anything, mock.Anything).Return(errors.New("db down"))

	svc := NewFitService(repo, rng.NewStreams(), testkit.QuietLogger())
	_, err := svc.Fit(context.Background(), FitRequest{Model: m, Data: b, Epochs: 1})
	require.Error(t, err)
	assert.Equal(t, int64(0), m.Step())
}

func TestFitService_CancelledContextMarksRunCancelled(t *testing.T) {
	m, b := fixture(t)
	repo := testkit.NewInMemoryRunRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewFitService(repo, rng.NewStreams(), testkit.QuietLogger())
	_, err := svc.Fit(ctx, FitRequest{Model: m, Data: b, Epochs: 1})
	require.ErrorIs(t, err, context.Canceled)

	runs, err := repo.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStateCancelled, runs[0].State)
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestFitService_WithoutRegistrySavesModel(t *testing.T) {
	m, b := fixture(t)
	dir := t.TempDir()

	svc := NewFitService(nil, rng.NewStreams(), testkit.QuietLogger())
	res, err := svc.Fit(context.Background(), FitRequest{Model: m, Data: b, Epochs: 1, ModelDir: dir})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Step)
	assert.FileExists(t, dir+"/"+cdr.ParamsFile)

	loaded, err := cdr.Load(dir, testkit.QuietLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(4), loaded.Step())
}

func TestFitService_SameSeedSameEpochs(t *testing.T) {
	run := func() []EpochSummary {
		m, b := fixture(t)
		res, err := NewFitService(nil, rng.NewStreams(), testkit.QuietLogger()).
			Fit(context.Background(), FitRequest{Model: m, Data: b, Epochs: 2})
		require.NoError(t, err)
		return res.Epochs
	}
	assert.Equal(t, run(), run())
}

func TestFitService_RejectsBadRequests(t *testing.T) {
	m, b := fixture(t)
	svc := NewFitService(nil, rng.NewStreams(), testkit.QuietLogger())

	_, err := svc.Fit(context.Background(), FitRequest{Data: b, Epochs: 1})
	assert.True(t, core.IsConfigurationError(err))

	_, err = svc.Fit(context.Background(), FitRequest{Model: m, Data: b})
	assert.True(t, core.IsConfigurationError(err))

	b.Y = nil
	_, err = svc.Fit(context.Background(), FitRequest{Model: m, Data: b, Epochs: 1})
	assert.True(t, core.IsShapeError(err))
}

func TestFitService_Evaluate(t *testing.T) {
	m, b := fixture(t)
	svc := NewFitService(nil, rng.NewStreams(), testkit.QuietLogger())

	whole, err := svc.Evaluate(context.Background(), m, b, 0)
	require.NoError(t, err)
	chunked, err := svc.Evaluate(context.Background(), m, b, 10)
	require.NoError(t, err)

	assert.Equal(t, b.Len(), chunked.N)
	assert.InDelta(t, whole.LogLik, chunked.LogLik, 1e-8)
	assert.InDelta(t, whole.Loss, chunked.Loss, 1e-8)
	assert.InDelta(t, whole.LikelihoodLoss, chunked.LikelihoodLoss, 1e-8)

	ll, err := m.LogLik(b, false)
	require.NoError(t, err)
	var total float64
	for _, v := range ll {
		total += v
	}
	assert.InDelta(t, total, whole.LogLik, 1e-8)

	_, err = svc.Evaluate(context.Background(), m, cdr.Batch{}, 4)
	assert.ErrorIs(t, err, core.ErrEmptyBatch)
}

func TestFitService_EvaluateScaledLossMatchesWholeBatch(t *testing.T) {
	hp := testkit.SmallHyperparams()
	hp.ScaleLossWithData = true
	m, b, err := testkit.NewFixtureModel(hp, testkit.DefaultImpulseConfig())
	require.NoError(t, err)
	svc := NewFitService(nil, rng.NewStreams(), testkit.QuietLogger())

	rep, err := m.Loss(b)
	require.NoError(t, err)
	for _, chunk := range []int{0, 7, 10} {
		ev, err := svc.Evaluate(context.Background(), m, b, chunk)
		require.NoError(t, err)
		assert.InDelta(t, rep.Loss, ev.Loss, 1e-8*max(1, rep.Loss), "chunk %d", chunk)
		assert.InDelta(t, rep.LikelihoodLoss, ev.LikelihoodLoss, 1e-8*max(1, rep.LikelihoodLoss), "chunk %d", chunk)
	}
}
