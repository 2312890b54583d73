package dist

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/integrate/quad"
)

func TestNormal_ZeroMeanMedianAndCDF(t *testing.T) {
	n := NewNormal(0, 2, nil)
	assert.Equal(t, 0.0, n.Quantile(0.5))
	assert.Equal(t, 0.5, n.CDF(0))
}

func TestNormal_Affine(t *testing.T) {
	n := NewNormal(0.5, 1.5, nil).Affine(3, 10)
	assert.InDelta(t, 11.5, n.Mean(), 1e-12)
	assert.InDelta(t, 4.5, n.Sigma, 1e-12)
}

func TestNewNormal_RejectsNonPositiveScale(t *testing.T) {
	assert.Panics(t, func() { NewNormal(0, 0, nil) })
	assert.Panics(t, func() { NewNormal(0, math.NaN(), nil) })
}

func TestSinhArcsinh_ReducesToNormal(t *testing.T) {
	s := NewSinhArcsinh(1.2, 0.7, 0, 1, nil)
	n := NewNormal(1.2, 0.7, nil)

	for _, y := range []float64{-1, 0, 1.2, 2.5} {
		assert.InDelta(t, n.LogProb(y), s.LogProb(y), 1e-10)
		assert.InDelta(t, n.CDF(y), s.CDF(y), 1e-10)
	}
	for _, p := range []float64{0.025, 0.5, 0.9} {
		assert.InDelta(t, n.Quantile(p), s.Quantile(p), 1e-10)
	}
	assert.InDelta(t, 1.2, s.Mean(), 1e-9)
}

func TestSinhArcsinh_QuantileInvertsCDF(t *testing.T) {
	s := NewSinhArcsinh(-0.3, 1.4, 0.6, 1.3, nil)
	for _, p := range []float64{0.01, 0.2, 0.5, 0.8, 0.99} {
		assert.InDelta(t, p, s.CDF(s.Quantile(p)), 1e-9)
	}
}

func TestSinhArcsinh_DensityIntegratesToOneAndMatchesMean(t *testing.T) {
	s := NewSinhArcsinh(0.4, 1.1, -0.5, 0.8, nil)
	lo, hi := s.Quantile(1e-9), s.Quantile(1-1e-9)

	mass := quad.Fixed(s.Prob, lo, hi, 4000, nil, 0)
	assert.InDelta(t, 1, mass, 1e-5)

	mean := quad.Fixed(func(y float64) float64 { return y * s.Prob(y) }, lo, hi, 4000, nil, 0)
	assert.InDelta(t, mean, s.Mean(), 1e-4)
}

func TestSinhArcsinh_SampleMeanNearAnalytic(t *testing.T) {
	s := NewSinhArcsinh(0, 1, 0.8, 1, rand.NewPCG(7, 11))
	var sum float64
	const n = 20000
	for i := 0; i < n; i++ {
		sum += s.Rand()
	}
	assert.InDelta(t, s.Mean(), sum/n, 0.05)
}

func TestConstraints_InverseRoundTrip(t *testing.T) {
	for _, name := range []string{"softplus", "abs"} {
		c, err := ParseConstraint(name)
		require.NoError(t, err)
		for _, y := range []float64{1e-3, 0.5, 2, 40} {
			assert.InDelta(t, y, c.Apply(c.Inverse(y)), 1e-9, name)
		}
	}
	_, err := ParseConstraint("exp2")
	assert.Error(t, err)
}

func TestPositive_NeverZero(t *testing.T) {
	assert.Greater(t, Positive(Abs{}, 0, 1e-5), 0.0)
	assert.Greater(t, Positive(Softplus{}, -800, 1e-5), 0.0)
}
