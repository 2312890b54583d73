package objective

import (
	"fmt"
	"strings"

	"gocdr/domain/core"
	"gocdr/internal/graph"
)

// Regularizer turns a weight node into a scalar penalty.
type Regularizer interface {
	Name() string
	Penalty(w *graph.Node) *graph.Node
}

// L1 is scale * Σ|w|.
type L1 struct{ Scale float64 }

// L2 is scale * Σw²/2.
type L2 struct{ Scale float64 }

// ElasticNet mixes L1 and L2 with weight Ratio on L1.
type ElasticNet struct {
	Scale float64
	Ratio float64
}

func (r L1) Name() string { return "l1_regularizer" }
func (r L1) Penalty(w *graph.Node) *graph.Node {
	return graph.Scale(graph.Sum(graph.Abs(w)), r.Scale)
}

func (r L2) Name() string { return "l2_regularizer" }
func (r L2) Penalty(w *graph.Node) *graph.Node {
	return graph.Scale(graph.Sum(graph.Square(w)), r.Scale/2)
}

func (r ElasticNet) Name() string { return "elastic_net_regularizer" }
func (r ElasticNet) Penalty(w *graph.Node) *graph.Node {
	l1 := L1{Scale: r.Scale * r.Ratio}.Penalty(w)
	l2 := L2{Scale: r.Scale * (1 - r.Ratio)}.Penalty(w)
	return graph.Add(l1, l2)
}

// ParseRegularizer resolves a regularizer by name. An empty name, "none" or a
// zero scale yields nil.
func ParseRegularizer(name string, scale float64) (Regularizer, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" || n == "none" || scale == 0 {
		return nil, nil
	}
	if scale < 0 {
		return nil, fmt.Errorf("%w: regularizer scale must be non-negative, got %v", core.ErrConfiguration, scale)
	}
	switch n {
	case "l1", "l1_regularizer":
		return L1{Scale: scale}, nil
	case "l2", "l2_regularizer":
		return L2{Scale: scale}, nil
	case "elastic_net", "elastic_net_regularizer":
		return ElasticNet{Scale: scale, Ratio: 0.5}, nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownRegularizer, name)
	}
}
