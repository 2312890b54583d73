// Package dist holds the scalar distributions used by the output model and
// the positivity constraints applied to every scale parameter.
package dist

import (
	"fmt"
	"math"
	"strings"

	"gocdr/domain/core"
	"gocdr/internal/graph"
)

// Constraint maps an unconstrained real onto the positive half-line.
type Constraint interface {
	Name() string
	Apply(x float64) float64
	Inverse(y float64) float64
	Node(n *graph.Node) *graph.Node
}

// ParseConstraint resolves a constraint by name: "softplus" (default) or "abs".
func ParseConstraint(name string) (Constraint, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "softplus":
		return Softplus{}, nil
	case "abs":
		return Abs{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownConstraint, name)
	}
}

// Softplus is log(1 + exp(x)).
type Softplus struct{}

func (Softplus) Name() string                   { return "softplus" }
func (Softplus) Apply(x float64) float64        { return graph.SoftplusValue(x) }
func (Softplus) Node(n *graph.Node) *graph.Node { return graph.Softplus(n) }

// Inverse is log(exp(y) - 1), with the large-y asymptote taken directly.
func (Softplus) Inverse(y float64) float64 {
	if y > 30 {
		return y
	}
	return math.Log(math.Expm1(y))
}

// Abs is |x|; its inverse is the identity on positive inputs.
type Abs struct{}

func (Abs) Name() string                   { return "abs" }
func (Abs) Apply(x float64) float64        { return math.Abs(x) }
func (Abs) Inverse(y float64) float64      { return y }
func (Abs) Node(n *graph.Node) *graph.Node { return graph.Abs(n) }

// Positive returns c(x) + epsilon, the only form in which a scale is ever
// handed to a distribution.
func Positive(c Constraint, x, epsilon float64) float64 {
	return c.Apply(x) + epsilon
}

// PositiveNode is the graph form of Positive.
func PositiveNode(c Constraint, n *graph.Node, epsilon float64) *graph.Node {
	return graph.AddScalar(c.Node(n), epsilon)
}
