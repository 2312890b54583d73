package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocdr/domain/core"
	"gocdr/internal/graph"
)

// minimize runs n steps of f(x) = Σ (x - 3)² from zero.
func minimize(t *testing.T, o Optimizer, n int) []float64 {
	t.Helper()
	v := graph.NewVariable("x", graph.NewTensor(1, 2))
	for i := 0; i < n; i++ {
		v.ZeroGrad()
		tp := graph.NewTape()
		loss := graph.Sum(graph.Square(graph.AddScalar(tp.Var(v), -3)))
		require.NoError(t, tp.Backward(loss))
		o.Step([]*graph.Variable{v})
	}
	return v.Value.Data
}

func TestOptimizers_Converge(t *testing.T) {
	rates := map[string]float64{
		"SGD": 0.1, "Momentum": 0.02, "AdaGrad": 0.5, "RMSProp": 0.01, "Adam": 0.05, "Nadam": 0.05,
	}
	for name, lr := range rates {
		o, err := New(name, lr)
		require.NoError(t, err, name)
		assert.Equal(t, name, o.Name())
		for _, x := range minimize(t, o, 2000) {
			assert.InDelta(t, 3, x, 0.05, name)
		}
	}
}

func TestSGD_SingleStep(t *testing.T) {
	o, err := New("sgd", 0.25)
	require.NoError(t, err)
	x := minimize(t, o, 1)
	// gradient at zero is -6
	assert.Equal(t, []float64{1.5, 1.5}, x)
}

func TestAdam_FirstStepIsLearningRate(t *testing.T) {
	o, err := New("Adam", 0.01)
	require.NoError(t, err)
	x := minimize(t, o, 1)
	assert.InDelta(t, 0.01, x[0], 1e-6)
}

func TestNew_Errors(t *testing.T) {
	_, err := New("", 0.1)
	assert.ErrorIs(t, err, core.ErrMissingOptimizer)

	_, err = New("lbfgs", 0.1)
	assert.ErrorIs(t, err, core.ErrUnknownOptimizer)
	assert.True(t, core.IsConfigurationError(err))

	_, err = New("adam", 0)
	assert.True(t, core.IsConfigurationError(err))

	assert.Equal(t, []string{"adagrad", "adam", "momentum", "nadam", "rmsprop", "sgd"}, Names())
}

func TestStep_KeepsStatePerVariable(t *testing.T) {
	o, err := New("adam", 0.1)
	require.NoError(t, err)
	a := graph.NewVariable("a", graph.Full(1, 1, 0))
	b := graph.NewVariable("b", graph.Full(1, 1, 0))
	a.Grad[0] = -1
	b.Grad[0] = 1
	o.Step([]*graph.Variable{a, b})
	assert.InDelta(t, 0.1, a.Value.Data[0], 1e-6)
	assert.InDelta(t, -0.1, b.Value.Data[0], 1e-6)

	// an external write to Value is picked up by the next step
	a.Value.Data[0] = 5
	o.Step([]*graph.Variable{a, b})
	assert.InDelta(t, 5.1, a.Value.Data[0], 1e-6)
}
