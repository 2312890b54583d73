// Package bayes builds variational posterior/prior pairs for latent model
// parameters and realizes them on a graph.Tape under an explicit execution
// mode.
package bayes

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Mode selects how every latent parameter is realized during one pass.
type Mode int

const (
	// MAP uses each posterior mean.
	MAP Mode = iota
	// Sample draws each parameter from its posterior.
	Sample
)

func (m Mode) String() string {
	if m == Sample {
		return "sample"
	}
	return "map"
}

// ExecContext is fixed for the duration of one forward pass. Every parameter
// and layer realized in that pass reads the same Mode, so a pass is either
// fully deterministic or fully stochastic.
type ExecContext struct {
	mode     Mode
	training bool
	rng      *rand.Rand
}

// NewExecContext builds a context. A nil rng is replaced with a fixed-seed
// stream so that sampling is always possible.
func NewExecContext(mode Mode, training bool, rng *rand.Rand) ExecContext {
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}
	return ExecContext{mode: mode, training: training, rng: rng}
}

// Evaluation is the MAP, non-training context used by every query.
func Evaluation() ExecContext {
	return NewExecContext(MAP, false, nil)
}

// Mode returns the realization mode.
func (c ExecContext) Mode() Mode { return c.mode }

// Training reports whether dropout and other train-only behavior is active.
func (c ExecContext) Training() bool { return c.training }

// RNG exposes the pass's random stream.
func (c ExecContext) RNG() *rand.Rand { return c.rng }

// StandardNormal fills a slice of length n with N(0, 1) draws.
func (c ExecContext) StandardNormal(n int) []float64 {
	d := distuv.Normal{Mu: 0, Sigma: 1, Src: c.rng}
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}

// DropoutMask returns an inverted-dropout mask: each element is 0 with
// probability rate and 1/(1-rate) otherwise. Outside training, or with a
// zero rate, the mask is nil.
func (c ExecContext) DropoutMask(n int, rate float64) []float64 {
	if !c.training || rate <= 0 {
		return nil
	}
	keep := 1 - rate
	mask := make([]float64, n)
	for i := range mask {
		if c.rng.Float64() < keep {
			mask[i] = 1 / keep
		}
	}
	return mask
}
