package dist

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution is a univariate continuous distribution.
type Distribution interface {
	Mean() float64
	LogProb(x float64) float64
	Prob(x float64) float64
	CDF(x float64) float64
	Quantile(p float64) float64
	Rand() float64
}

func checkScale(scale float64) {
	if !(scale > 0) || math.IsInf(scale, 0) {
		panic(fmt.Sprintf("dist: scale must be positive and finite, got %v", scale))
	}
}

// Normal wraps the gonum Normal.
type Normal struct {
	distuv.Normal
}

// NewNormal returns a Normal with the given location and scale. src may be
// nil when the distribution is never sampled.
func NewNormal(loc, scale float64, src rand.Source) Normal {
	checkScale(scale)
	return Normal{distuv.Normal{Mu: loc, Sigma: scale, Src: src}}
}

// Affine returns the distribution of a*X + b for a > 0.
func (n Normal) Affine(a, b float64) Normal {
	return NewNormal(n.Mu*a+b, n.Sigma*a, n.Src)
}

var _ Distribution = Normal{}
