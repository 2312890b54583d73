package layers

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocdr/domain/core"
	"gocdr/internal/bayes"
	"gocdr/internal/dist"
	"gocdr/internal/graph"
)

func newSuite(t *testing.T) *bayes.Suite {
	t.Helper()
	s, err := bayes.NewSuite(bayes.Config{
		WeightPriorSD:            bayes.Heuristic("glorot"),
		BiasPriorSD:              bayes.Numeric(1),
		PosteriorToPriorSDRatio:  0.1,
		RanefToFixefPriorSDRatio: 0.1,
		DeclarePriorsFixef:       true,
		DeclarePriorsRanef:       true,
		Constraint:               dist.Softplus{},
		Epsilon:                  1e-5,
	}, nil, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	return s
}

func input(tp *graph.Tape) *graph.Node {
	return tp.Const(graph.Tensor{Rows: 2, Cols: 3, Data: []float64{1, 0, -1, 0.5, 2, 0}})
}

func TestDense_MAPForwardUsesPosteriorMean(t *testing.T) {
	s := newSuite(t)
	d, err := NewDense(s, 3, DenseConfig{Name: "ff", Units: 2, UseBias: true})
	require.NoError(t, err)
	d.Bias.Loc.Value.Data[1] = 0.5

	tp := graph.NewTape()
	out, kl := d.Forward(bayes.Evaluation(), tp, input(tp))
	assert.Len(t, kl, 2)

	w := d.Kernel.Mean()
	x := []float64{1, 0, -1}
	want := x[0]*w.At(0, 1) + x[1]*w.At(1, 1) + x[2]*w.At(2, 1) + 0.5
	assert.InDelta(t, want, out.Value().At(0, 1), 1e-12)

	tp2 := graph.NewTape()
	again, _ := d.Forward(bayes.Evaluation(), tp2, input(tp2))
	assert.Equal(t, out.Value().Data, again.Value().Data)
}

func TestDense_WeightsExcludeBias(t *testing.T) {
	s := newSuite(t)
	d, err := NewDense(s, 3, DenseConfig{Name: "ff", Units: 2, UseBias: true})
	require.NoError(t, err)
	assert.Len(t, d.Parameters(), 2)
	require.Len(t, d.Weights(), 1)
	assert.Same(t, d.Kernel, d.Weights()[0])
}

func TestDense_NamesNeverAlias(t *testing.T) {
	s := newSuite(t)
	a, err := NewDense(s, 3, DenseConfig{Name: "a", Units: 2})
	require.NoError(t, err)
	b, err := NewDense(s, 3, DenseConfig{Name: "b", Units: 2})
	require.NoError(t, err)
	assert.NotSame(t, a.Kernel.Loc, b.Kernel.Loc)

	_, err = NewDense(s, 3, DenseConfig{Name: "a", Units: 2})
	assert.ErrorIs(t, err, core.ErrDuplicateParameter)
}

func TestDense_RejectsBadConfig(t *testing.T) {
	s := newSuite(t)
	_, err := NewDense(s, 3, DenseConfig{Name: "x", Units: 2, Activation: "swish"})
	assert.ErrorIs(t, err, core.ErrUnknownActivation)
	_, err = NewDense(s, 3, DenseConfig{Name: "y", Units: 2, DropoutRate: 1})
	assert.True(t, core.IsConfigurationError(err))
	_, err = NewDense(s, 0, DenseConfig{Name: "z", Units: 2})
	assert.True(t, core.IsShapeError(err))
}

func TestDense_KLReturnedPerCall(t *testing.T) {
	s := newSuite(t)
	d, err := NewDense(s, 3, DenseConfig{Name: "ff", Units: 2, UseBias: true})
	require.NoError(t, err)

	tp := graph.NewTape()
	ctx := bayes.NewExecContext(bayes.Sample, true, rand.New(rand.NewPCG(1, 1)))
	_, kl1 := d.Forward(ctx, tp, input(tp))
	_, kl2 := d.Forward(ctx, tp, input(tp))
	assert.Len(t, kl1, 2)
	assert.Len(t, kl2, 2)
	assert.NotSame(t, kl1[0], kl2[0])
}

func TestStack_Widths(t *testing.T) {
	s := newSuite(t)
	st, err := NewStack(s, 3, []DenseConfig{
		{Name: "l1", Units: 4, Activation: "tanh", UseBias: true},
		{Name: "l2", Units: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Out(3))
	assert.Equal(t, 3, Stack(nil).Out(3))
	assert.Len(t, st.Parameters(), 3)
	assert.Len(t, st.Weights(), 2)

	tp := graph.NewTape()
	draw, kl := st.Realize(bayes.Evaluation(), tp)
	assert.Len(t, kl, 3)
	out := draw.Apply(input(tp))
	assert.Equal(t, 2, out.Rows())
	assert.Equal(t, 1, out.Cols())
}

func TestRecurrent_ForwardShapesAndPenalties(t *testing.T) {
	s := newSuite(t)
	r, err := NewRecurrent(s, 3, RecurrentConfig{Name: "rnn_l1", Units: 2, TimeProjectionDepth: 2, TimeProjectionUnits: 4})
	require.NoError(t, err)
	assert.Len(t, r.Parameters(), 6)
	assert.Len(t, r.Weights(), 4)

	var cFinal *graph.Node
	run := func() ([]*graph.Node, bayes.KLPenalties, *graph.Tape) {
		tp := graph.NewTape()
		xs := []*graph.Node{input(tp), input(tp), input(tp)}
		ts := []*graph.Node{tp.Const(graph.Column([]float64{2, 1})), tp.Const(graph.Column([]float64{1, 0.5})), tp.Const(graph.Column([]float64{0, 0}))}
		h0 := tp.Const(graph.NewTensor(1, 2))
		c0 := tp.Const(graph.NewTensor(1, 2))
		hs, c, kl := r.Forward(bayes.Evaluation(), tp, xs, ts, h0, c0)
		cFinal = c
		return hs, kl, tp
	}

	hs, kl, tp := run()
	require.Len(t, hs, 3)
	for _, h := range hs {
		assert.Equal(t, 2, h.Rows())
		assert.Equal(t, 2, h.Cols())
		for _, v := range h.Value().Data {
			assert.True(t, v > -1 && v < 1)
		}
	}
	assert.Len(t, kl, 6, "one KL entry per parameter per call")
	assert.Equal(t, 2, cFinal.Rows())
	assert.Equal(t, 2, cFinal.Cols())

	again, _, _ := run()
	assert.Equal(t, hs[2].Value().Data, again[2].Value().Data)

	loss := graph.Add(graph.Sum(graph.Square(hs[2])), kl.Total(tp))
	require.NoError(t, tp.Backward(loss))
	assert.NotEqual(t, make([]float64, len(r.RecurrentKernel.Loc.Grad)), r.RecurrentKernel.Loc.Grad)
}
