package graph

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Node is one value recorded on a Tape.
type Node struct {
	tape      *Tape
	value     Tensor
	leaf      *anydiff.Var
	res       anydiff.Res
	parents   []*Node
	variable  *Variable
	needsGrad bool
	grad      anyvec.Vector
}

// Value returns the forward value. Callers must not modify it.
func (n *Node) Value() Tensor { return n.value }

// Rows returns the first dimension.
func (n *Node) Rows() int { return n.value.Rows }

// Cols returns the second dimension.
func (n *Node) Cols() int { return n.value.Cols }

// Scalar returns the single element of a 1x1 node.
func (n *Node) Scalar() float64 {
	if n.value.Len() != 1 {
		panic(fmt.Sprintf("graph: Scalar on %s", n.value))
	}
	return n.value.Data[0]
}

// Tape records nodes in creation order.
type Tape struct {
	nodes []*Node
}

// NewTape returns an empty tape.
func NewTape() *Tape {
	return &Tape{}
}

// Len returns the number of recorded nodes.
func (t *Tape) Len() int { return len(t.nodes) }

func (t *Tape) push(n *Node) *Node {
	n.tape = t
	n.leaf = anydiff.NewVar(NewVector(n.value.Data))
	t.nodes = append(t.nodes, n)
	return n
}

// Const records a value that receives no gradient.
func (t *Tape) Const(x Tensor) *Node {
	return t.push(&Node{value: x})
}

// Scalar records a 1x1 constant.
func (t *Tape) Scalar(x float64) *Node {
	return t.Const(Full(1, 1, x))
}

// Var records a read of a trainable variable. Gradients flowing into the
// node are added to v.Grad during Backward.
func (t *Tape) Var(v *Variable) *Node {
	return t.push(&Node{value: v.Value.Clone(), variable: v, needsGrad: true})
}

// op records res, an anydiff expression over the parents' leaves, as a
// rows x cols node.
func (t *Tape) op(res anydiff.Res, rows, cols int, parents ...*Node) *Node {
	data := Floats(res.Output())
	if len(data) != rows*cols {
		panic(fmt.Sprintf("graph: op produced %d values for %dx%d", len(data), rows, cols))
	}
	n := &Node{value: Tensor{Rows: rows, Cols: cols, Data: data}, res: res}
	for _, p := range parents {
		if p.tape != t {
			panic("graph: node belongs to another tape")
		}
		if p.needsGrad {
			n.needsGrad = true
		}
		if !containsNode(n.parents, p) {
			n.parents = append(n.parents, p)
		}
	}
	return t.push(n)
}

func containsNode(ns []*Node, n *Node) bool {
	for _, m := range ns {
		if m == n {
			return true
		}
	}
	return false
}

func (n *Node) accumulate(g anyvec.Vector) {
	if n.grad == nil {
		n.grad = g
		return
	}
	n.grad.Add(g)
}

// Backward propagates d(loss)/d(node) through every recorded node. loss must
// be a 1x1 node of this tape.
func (t *Tape) Backward(loss *Node) error {
	if loss.tape != t {
		return fmt.Errorf("graph: loss node belongs to another tape")
	}
	if loss.value.Len() != 1 {
		return fmt.Errorf("graph: loss must be scalar, got %s", loss.value)
	}
	if !loss.needsGrad {
		return nil
	}
	loss.grad = NewVector([]float64{1})
	for i := len(t.nodes) - 1; i >= 0; i-- {
		n := t.nodes[i]
		if n.grad == nil || !n.needsGrad {
			continue
		}
		if n.variable != nil {
			for j, g := range Floats(n.grad) {
				n.variable.Grad[j] += g
			}
		}
		if n.res != nil {
			var leaves []*anydiff.Var
			for _, p := range n.parents {
				if p.needsGrad {
					leaves = append(leaves, p.leaf)
				}
			}
			grad := anydiff.NewGrad(leaves...)
			n.res.Propagate(n.grad, grad)
			for _, p := range n.parents {
				if p.needsGrad {
					p.accumulate(grad[p.leaf])
				}
			}
		}
		n.grad = nil
	}
	return nil
}
