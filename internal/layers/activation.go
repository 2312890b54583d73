// Package layers builds neural layers whose weights are latent parameters.
package layers

import (
	"fmt"
	"strings"

	"gocdr/domain/core"
	"gocdr/internal/graph"
)

// Activation is an elementwise nonlinearity.
type Activation struct {
	Name  string
	apply func(*graph.Node) *graph.Node
}

// Apply runs the nonlinearity. The identity returns x unchanged.
func (a Activation) Apply(x *graph.Node) *graph.Node {
	if a.apply == nil {
		return x
	}
	return a.apply(x)
}

// ParseActivation accepts "", "linear", "identity", "tanh", "sigmoid",
// "relu" and "softplus".
func ParseActivation(name string) (Activation, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "linear", "identity", "none":
		return Activation{Name: "identity"}, nil
	case "tanh":
		return Activation{Name: n, apply: graph.Tanh}, nil
	case "sigmoid":
		return Activation{Name: n, apply: graph.Sigmoid}, nil
	case "relu":
		return Activation{Name: n, apply: graph.ReLU}, nil
	case "softplus":
		return Activation{Name: n, apply: graph.Softplus}, nil
	default:
		return Activation{}, fmt.Errorf("%w: %q", core.ErrUnknownActivation, name)
	}
}
