package objective

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocdr/domain/core"
	"gocdr/internal/bayes"
	"gocdr/internal/dist"
	"gocdr/internal/graph"
)

func logLik(tp *graph.Tape, losses ...float64) *graph.Node {
	ll := make([]float64, len(losses))
	for i, l := range losses {
		ll[i] = -l
	}
	return tp.Const(graph.Column(ll))
}

func warmFilter(t *testing.T, ema, sd float64) *LossFilter {
	t.Helper()
	f, err := NewLossFilter(0.9, 2)
	require.NoError(t, err)
	f.Restore(FilterState{EMA: ema, SDEMA: sd, Steps: f.WarmUp() + 1})
	return f
}

func TestAssemble_FilterDropsOutlier(t *testing.T) {
	a, err := NewAssembler(Config{OptimizerName: "Adam"}, warmFilter(t, 1, 0))
	require.NoError(t, err)

	tp := graph.NewTape()
	obj := a.Assemble(tp, Inputs{LogLik: logLik(tp, 1, 1, 1, 1, 100), Filter: true})
	assert.InDelta(t, 1, obj.LikelihoodLoss.Scalar(), 1e-12)
	assert.Equal(t, 1, obj.NDropped)
	assert.Equal(t, []float64{1, 1, 1, 1, 100}, obj.Losses)
}

func TestAssemble_QueriesDoNotFilter(t *testing.T) {
	a, err := NewAssembler(Config{OptimizerName: "Adam"}, warmFilter(t, 1, 0))
	require.NoError(t, err)

	tp := graph.NewTape()
	obj := a.Assemble(tp, Inputs{LogLik: logLik(tp, 1, 1, 1, 1, 100)})
	assert.InDelta(t, 20.8, obj.LikelihoodLoss.Scalar(), 1e-12)
	assert.Equal(t, 0, obj.NDropped)
}

func TestAssemble_NoPenaltiesIsPureLikelihood(t *testing.T) {
	a, err := NewAssembler(Config{OptimizerName: "Adam"}, nil)
	require.NoError(t, err)

	tp := graph.NewTape()
	obj := a.Assemble(tp, Inputs{LogLik: logLik(tp, 0.5, 1.5, 2.5), Filter: true})
	assert.Equal(t, obj.LikelihoodLoss.Scalar(), obj.Loss.Scalar())
	assert.Equal(t, 0.0, obj.RegLoss.Scalar())
	assert.Equal(t, 0.0, obj.KLLoss.Scalar())
	assert.InDelta(t, 1.5, obj.Loss.Scalar(), 1e-12)
}

func TestAssemble_ScaleLossWithData(t *testing.T) {
	a, err := NewAssembler(Config{OptimizerName: "SGD", ScaleLossWithData: true, MinibatchScale: 10}, nil)
	require.NoError(t, err)

	tp := graph.NewTape()
	obj := a.Assemble(tp, Inputs{LogLik: logLik(tp, 1, 2, 3)})
	assert.InDelta(t, 60, obj.Loss.Scalar(), 1e-12)
}

func TestAssemble_AddsPenaltyAndKL(t *testing.T) {
	suite, err := bayes.NewSuite(bayes.Config{
		WeightPriorSD:            bayes.Numeric(1),
		BiasPriorSD:              bayes.Numeric(1),
		PosteriorToPriorSDRatio:  0.1,
		RanefToFixefPriorSDRatio: 0.1,
		DeclarePriorsFixef:       true,
		Constraint:               dist.Softplus{},
		Epsilon:                  1e-5,
	}, nil, nil)
	require.NoError(t, err)
	w, err := suite.Kernel("w", 1, 2)
	require.NoError(t, err)
	w.Loc.Value.Data[0], w.Loc.Value.Data[1] = 1, 2

	a, err := NewAssembler(Config{OptimizerName: "Adam", Regularizer: L2{Scale: 0.1}}, nil)
	require.NoError(t, err)

	tp := graph.NewTape()
	d := w.Realize(bayes.Evaluation(), tp)
	obj := a.Assemble(tp, Inputs{
		LogLik:  logLik(tp, 2),
		KL:      bayes.KLPenalties{}.Append(d.KL),
		Weights: []*bayes.LatentParameter{w},
	})
	assert.InDelta(t, w.KL(), obj.KLLoss.Scalar(), 1e-12)
	assert.InDelta(t, 0.25+w.KL(), obj.RegLoss.Scalar(), 1e-12)
	assert.InDelta(t, 2+0.25+w.KL(), obj.Loss.Scalar(), 1e-12)

	require.NoError(t, tp.Backward(obj.Loss))
	// L2 gradient 0.1*w plus the KL gradient w/1
	assert.InDelta(t, 0.1+1, w.Loc.Grad[0], 1e-9)
}

func TestNewAssembler_RequiresOptimizer(t *testing.T) {
	_, err := NewAssembler(Config{}, nil)
	assert.ErrorIs(t, err, core.ErrMissingOptimizer)
	assert.True(t, core.IsConfigurationError(err))
}

func TestLossFilter_WarmUpAndNonFinite(t *testing.T) {
	f, err := NewLossFilter(0.9, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(20), f.WarmUp())

	mask, dropped := f.Mask([]float64{1, 100, math.NaN(), math.Inf(1)})
	assert.Equal(t, []float64{1, 1, 0, 0}, mask)
	assert.Equal(t, 2, dropped)

	off, err := NewLossFilter(0.9, 0)
	require.NoError(t, err)
	assert.False(t, off.Enabled())
	mask, dropped = off.Mask([]float64{math.NaN()})
	assert.Equal(t, []float64{1}, mask)
	assert.Equal(t, 0, dropped)
}

func TestLossFilter_ObserveUsesUnfilteredLosses(t *testing.T) {
	f := warmFilter(t, 1, 0)
	before := f.State().Steps

	f.Observe([]float64{1, 1, 1, 1, 100, math.NaN()})
	s := f.State()
	assert.Equal(t, before+1, s.Steps)
	assert.InDelta(t, 0.9*1+0.1*20.8, s.EMA, 1e-12)
	assert.InDelta(t, 0.1*math.Sqrt(99*99/5.0), s.SDEMA, 1e-12)
	assert.InDelta(t, s.EMA+2*s.SDEMA, f.Cutoff(), 1e-12)
}

func TestNewLossFilter_Validation(t *testing.T) {
	_, err := NewLossFilter(1, 2)
	assert.True(t, core.IsConfigurationError(err))
	_, err = NewLossFilter(0.5, -1)
	assert.True(t, core.IsConfigurationError(err))
}

func TestParseRegularizer(t *testing.T) {
	r, err := ParseRegularizer("", 1)
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = ParseRegularizer("l1", 0.5)
	require.NoError(t, err)
	tp := graph.NewTape()
	w := tp.Const(graph.Tensor{Rows: 1, Cols: 2, Data: []float64{-1, 2}})
	assert.InDelta(t, 1.5, r.Penalty(w).Scalar(), 1e-12)

	r, err = ParseRegularizer("elastic_net", 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*3+0.5*5.0/2, r.Penalty(w).Scalar(), 1e-12)

	_, err = ParseRegularizer("l3", 1)
	assert.ErrorIs(t, err, core.ErrUnknownRegularizer)
}

func TestTrackers(t *testing.T) {
	tr := NewTrackers(0.5)
	tr.Update("y_sd_delta", []float64{2})
	tr.Update("y_sd_delta", []float64{4})
	v, ok := tr.Get("y_sd_delta")
	require.True(t, ok)
	assert.Equal(t, []float64{2.5}, v)

	snap := tr.Snapshot()
	other := NewTrackers(0.5)
	other.Restore(snap)
	assert.Equal(t, []string{"y_sd_delta"}, other.Names())
	assert.Equal(t, int64(2), snap["y_sd_delta"].Steps)

	_, ok = other.Get("missing")
	assert.False(t, ok)
}
