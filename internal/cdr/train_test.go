package cdr_test

import (
	"context"
	"math"
	"testing"

	"gocdr/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestTrainStep_AdvancesStateAndTrackers(t *testing.T) {
	m, b := newFixture(t)

	res, err := m.TrainStep(b)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Step)
	assert.Equal(t, int64(1), m.Step())
	assert.False(t, math.IsNaN(res.Loss))
	assert.InDelta(t, res.Loss, res.LikelihoodLoss+res.RegLoss, 1e-9)
	assert.GreaterOrEqual(t, res.KLLoss, 0.0)
	assert.Equal(t, 0, res.NDropped)

	delta, ok := m.Trackers().Get("y_sd_delta")
	require.True(t, ok)
	assert.Len(t, delta, 1)
	h, ok := m.Trackers().Get("rnn_h_l1_mean")
	require.True(t, ok)
	assert.Len(t, h, m.Hyperparams().RNNUnits)
	c, ok := m.Trackers().Get("rnn_c_l1_mean")
	require.True(t, ok)
	assert.Len(t, c, m.Hyperparams().RNNUnits)
	_, ok = m.Trackers().Get("y_skewness_delta")
	assert.False(t, ok)

	rows := m.TrackerSummary()
	assert.Len(t, rows, 1+2*m.Hyperparams().RNNUnits*m.Hyperparams().RNNLayers)
	for _, r := range rows {
		assert.Equal(t, int64(1), r.Steps, r.Name)
	}

	// filtering is off by default
	assert.Equal(t, int64(0), m.LossFilterState().Steps)
}

func TestTrainStep_FeedsLossFilter(t *testing.T) {
	hp := testkit.SmallHyperparams()
	hp.LossFilterNSDs = 3
	m, b, err := testkit.NewFixtureModel(hp, testkit.DefaultImpulseConfig())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := m.TrainStep(b)
		require.NoError(t, err)
	}
	st := m.LossFilterState()
	assert.Equal(t, int64(2), st.Steps)
	assert.NotZero(t, st.EMA)
	assert.Positive(t, st.SDEMA)
}

func TestTrainStep_AsymmetricTracksShapeDeltas(t *testing.T) {
	hp := testkit.SmallHyperparams()
	hp.AsymmetricErrorDist = true
	m, b, err := testkit.NewFixtureModel(hp, testkit.DefaultImpulseConfig())
	require.NoError(t, err)

	_, err = m.TrainStep(b)
	require.NoError(t, err)
	for _, name := range []string{"y_sd_delta", "y_skewness_delta", "y_tailweight_delta"} {
		_, ok := m.Trackers().Get(name)
		assert.True(t, ok, name)
	}
}

func TestTrainStep_SameSeedSameResult(t *testing.T) {
	run := func() []float64 {
		m, b := newFixture(t)
		var losses []float64
		for i := 0; i < 3; i++ {
			res, err := m.TrainStep(b)
			require.NoError(t, err)
			losses = append(losses, res.Loss)
		}
		return losses
	}
	assert.Equal(t, run(), run())
}

func TestTrainStep_RejectsMissingResponses(t *testing.T) {
	m, b := newFixture(t)
	b.Y = nil

	_, err := m.TrainStep(b)
	require.Error(t, err)
	assert.Equal(t, int64(0), m.Step())
}

func TestTrainStep_ReducesLikelihoodLoss(t *testing.T) {
	m, b := newFixture(t)

	before, err := m.Loss(b)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		_, err := m.TrainStep(b)
		require.NoError(t, err)
	}
	after, err := m.Loss(b)
	require.NoError(t, err)

	assert.Less(t, after.LikelihoodLoss, before.LikelihoodLoss)
}

func TestLoss_DoesNotStep(t *testing.T) {
	m, b := newFixture(t)

	rep, err := m.Loss(b)
	require.NoError(t, err)
	assert.InDelta(t, rep.Loss, rep.LikelihoodLoss+rep.RegLoss, 1e-9)
	assert.GreaterOrEqual(t, rep.KLLoss, 0.0)
	assert.Equal(t, int64(0), m.Step())
}

func TestModel_ConcurrentQueriesDuringTraining(t *testing.T) {
	m, b := newFixture(t)

	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		for i := 0; i < 5; i++ {
			if _, err := m.TrainStep(b); err != nil {
				return err
			}
		}
		return nil
	})
	for w := 0; w < 3; w++ {
		g.Go(func() error {
			for i := 0; i < 5; i++ {
				if _, err := m.Predict(b, false); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(5), m.Step())
}
