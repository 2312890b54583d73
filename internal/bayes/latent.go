package bayes

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"gocdr/internal/dist"
	"gocdr/internal/graph"
)

// Prior is a fixed Normal prior over every element of a parameter.
type Prior struct {
	Loc   float64 `json:"loc"`
	Scale float64 `json:"scale"`
}

// LatentParameter is a Normal variational posterior with a trainable
// location and an unconstrained trainable scale. Its scale is always
// constraint(raw)+epsilon.
type LatentParameter struct {
	Name     string
	Kind     string
	Effect   Effect
	Loc      *graph.Variable
	RawScale *graph.Variable
	// Prior is nil when priors are disabled for this effect type.
	Prior *Prior

	constraint dist.Constraint
	epsilon    float64
}

// Draw is one realization of a LatentParameter on a tape.
type Draw struct {
	// Value is the posterior mean in MAP mode, a reparameterized sample
	// otherwise.
	Value *graph.Node
	// Summary is the posterior mean in every mode.
	Summary *graph.Node
	// KL is the elementwise KL(posterior || prior), or nil without a prior.
	KL *graph.Node
}

// Posterior is the node form of the variational distribution on one tape.
type Posterior struct {
	Loc   *graph.Node
	Scale *graph.Node
}

func (p *LatentParameter) Rows() int { return p.Loc.Value.Rows }
func (p *LatentParameter) Cols() int { return p.Loc.Value.Cols }

// Variables returns the trainable variables in a stable order.
func (p *LatentParameter) Variables() []*graph.Variable {
	return []*graph.Variable{p.Loc, p.RawScale}
}

// Constraint returns the positivity transform applied to RawScale.
func (p *LatentParameter) Constraint() dist.Constraint { return p.constraint }

// Epsilon returns the scale floor.
func (p *LatentParameter) Epsilon() float64 { return p.epsilon }

// Posterior records the posterior's location and constrained scale.
func (p *LatentParameter) Posterior(tp *graph.Tape) Posterior {
	return Posterior{
		Loc:   tp.Var(p.Loc),
		Scale: dist.PositiveNode(p.constraint, tp.Var(p.RawScale), p.epsilon),
	}
}

// Realize builds the mode-selected value, the summary and the KL term from a
// single Posterior.
func (p *LatentParameter) Realize(ctx ExecContext, tp *graph.Tape) Draw {
	q := p.Posterior(tp)
	d := Draw{Value: q.Loc, Summary: q.Loc}
	if ctx.Mode() == Sample {
		eps := graph.Tensor{Rows: p.Rows(), Cols: p.Cols(), Data: ctx.StandardNormal(p.Loc.Value.Len())}
		d.Value = graph.Add(q.Loc, graph.Mul(q.Scale, tp.Const(eps)))
	}
	if p.Prior != nil {
		d.KL = graph.NormalKL(q.Loc, q.Scale, p.Prior.Loc, p.Prior.Scale)
	}
	return d
}

// Mean returns a copy of the posterior mean.
func (p *LatentParameter) Mean() graph.Tensor {
	return p.Loc.Value.Clone()
}

// Scale returns the constrained posterior standard deviation.
func (p *LatentParameter) Scale() graph.Tensor {
	out := p.RawScale.Value.Clone()
	for i, x := range out.Data {
		out.Data[i] = dist.Positive(p.constraint, x, p.epsilon)
	}
	return out
}

// KL returns the summed KL divergence to the prior, 0 without a prior.
func (p *LatentParameter) KL() float64 {
	if p.Prior == nil {
		return 0
	}
	loc, scale := p.Loc.Value, p.Scale()
	pv := p.Prior.Scale * p.Prior.Scale
	var total float64
	for i, m := range loc.Data {
		s := scale.Data[i]
		d := m - p.Prior.Loc
		total += math.Log(p.Prior.Scale/s) + (s*s+d*d)/(2*pv) - 0.5
	}
	return total
}

// Interval returns the central credible interval with the given mass, e.g.
// 0.95 for the 2.5% and 97.5% posterior quantiles.
func (p *LatentParameter) Interval(mass float64) (lo, hi graph.Tensor) {
	z := distuv.UnitNormal.Quantile(0.5 + mass/2)
	loc, scale := p.Loc.Value, p.Scale()
	lo, hi = loc.Clone(), loc.Clone()
	for i := range lo.Data {
		lo.Data[i] -= z * scale.Data[i]
		hi.Data[i] += z * scale.Data[i]
	}
	return lo, hi
}

// KLPenalties is an ordered list of elementwise KL nodes. Constructors return
// their own penalties and callers fold them together with Append.
type KLPenalties []*graph.Node

// Append returns a new list holding k followed by the non-nil nodes. The
// receiver is never modified.
func (k KLPenalties) Append(nodes ...*graph.Node) KLPenalties {
	out := make(KLPenalties, len(k), len(k)+len(nodes))
	copy(out, k)
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Total is the sum over entries of the sum over each entry's elements. An
// empty list totals to a constant 0.
func (k KLPenalties) Total(tp *graph.Tape) *graph.Node {
	if len(k) == 0 {
		return tp.Scalar(0)
	}
	total := graph.Sum(k[0])
	for _, n := range k[1:] {
		total = graph.Add(total, graph.Sum(n))
	}
	return total
}
