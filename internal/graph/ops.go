package graph

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
)

// broadcast returns the output shape of a binary op between a and b. Each
// dimension must match or be 1 on one side.
func broadcast(a, b Tensor) (int, int) {
	rows, ok := broadcastDim(a.Rows, b.Rows)
	if !ok {
		panic(fmt.Sprintf("graph: cannot broadcast %s with %s", a, b))
	}
	cols, ok := broadcastDim(a.Cols, b.Cols)
	if !ok {
		panic(fmt.Sprintf("graph: cannot broadcast %s with %s", a, b))
	}
	return rows, cols
}

func broadcastDim(a, b int) (int, bool) {
	switch {
	case a == b:
		return a, true
	case a == 1:
		return b, true
	case b == 1:
		return a, true
	}
	return 0, false
}

func constant(rows, cols int, f func(i, j int) float64) anydiff.Res {
	data := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data[i*cols+j] = f(i, j)
		}
	}
	return anydiff.NewConst(NewVector(data))
}

func ones(rows, cols int) anydiff.Res {
	return constant(rows, cols, func(_, _ int) float64 { return 1 })
}

func matmul(a anydiff.Res, ar, ac int, b anydiff.Res, br, bc int) anydiff.Res {
	return anydiff.MatMul(false, false,
		&anydiff.Matrix{Data: a, Rows: ar, Cols: ac},
		&anydiff.Matrix{Data: b, Rows: br, Cols: bc}).Data
}

// expand broadcasts n to rows x cols by multiplying with ones.
func expand(n *Node, rows, cols int) anydiff.Res {
	var x anydiff.Res = n.leaf
	r, c := n.value.Rows, n.value.Cols
	if c == 1 && cols > 1 {
		x = matmul(x, r, 1, ones(1, cols), 1, cols)
	}
	if r == 1 && rows > 1 {
		x = matmul(ones(rows, 1), rows, 1, x, 1, cols)
	}
	return x
}

func binary(a, b *Node, f func(x, y anydiff.Res) anydiff.Res) *Node {
	rows, cols := broadcast(a.value, b.value)
	return a.tape.op(f(expand(a, rows, cols), expand(b, rows, cols)), rows, cols, a, b)
}

func unary(a *Node, f func(x anydiff.Res) anydiff.Res) *Node {
	return a.tape.op(f(a.leaf), a.value.Rows, a.value.Cols, a)
}

// Add returns a + b with broadcasting.
func Add(a, b *Node) *Node {
	return binary(a, b, anydiff.Add)
}

// Sub returns a - b with broadcasting.
func Sub(a, b *Node) *Node {
	return binary(a, b, anydiff.Sub)
}

// Mul returns the elementwise product with broadcasting.
func Mul(a, b *Node) *Node {
	return binary(a, b, anydiff.Mul)
}

// Scale multiplies every element by s.
func Scale(a *Node, s float64) *Node {
	return unary(a, func(x anydiff.Res) anydiff.Res { return anydiff.Scale(x, s) })
}

// AddScalar adds s to every element.
func AddScalar(a *Node, s float64) *Node {
	return unary(a, func(x anydiff.Res) anydiff.Res { return anydiff.AddScalar(x, s) })
}

func Tanh(a *Node) *Node {
	return unary(a, anydiff.Tanh)
}

func Sigmoid(a *Node) *Node {
	return unary(a, anydiff.Sigmoid)
}

func ReLU(a *Node) *Node {
	return unary(a, anydiff.ClipPos)
}

func absRes(x anydiff.Res) anydiff.Res {
	return anydiff.Add(anydiff.ClipPos(x), anydiff.ClipPos(anydiff.Scale(x, -1.0)))
}

// Softplus computes log(1 + exp(x)) as m·x + log(1 + exp(x - 2m·x)) with
// m = [x > 0] fixed from the forward value, so the exponent is never
// positive and the derivative is the logistic function everywhere.
func Softplus(a *Node) *Node {
	mask := make([]float64, a.value.Len())
	for i, x := range a.value.Data {
		if x > 0 {
			mask[i] = 1
		}
	}
	m := anydiff.NewConst(NewVector(mask))
	return unary(a, func(x anydiff.Res) anydiff.Res {
		pos := anydiff.Mul(x, m)
		tail := anydiff.Log(anydiff.AddScalar(anydiff.Exp(anydiff.Sub(x, anydiff.Scale(pos, 2.0))), 1.0))
		return anydiff.Add(pos, tail)
	})
}

func Abs(a *Node) *Node {
	return unary(a, absRes)
}

func Exp(a *Node) *Node {
	return unary(a, anydiff.Exp)
}

func Log(a *Node) *Node {
	return unary(a, anydiff.Log)
}

func Square(a *Node) *Node {
	return unary(a, func(x anydiff.Res) anydiff.Res { return anydiff.Mul(x, x) })
}

// SoftplusValue is the scalar softplus, for callers working on plain values.
func SoftplusValue(x float64) float64 {
	if x > 30 {
		return x
	}
	if x < -30 {
		return math.Exp(x)
	}
	return math.Log1p(math.Exp(x))
}

// MatMul returns the matrix product a·b.
func MatMul(a, b *Node) *Node {
	av, bv := a.value, b.value
	if av.Cols != bv.Rows {
		panic(fmt.Sprintf("graph: MatMul %s by %s", av, bv))
	}
	return a.tape.op(matmul(a.leaf, av.Rows, av.Cols, b.leaf, bv.Rows, bv.Cols), av.Rows, bv.Cols, a, b)
}

// Sum reduces every element into a 1x1 node.
func Sum(a *Node) *Node {
	return a.tape.op(anydiff.Sum(a.leaf), 1, 1, a)
}

// Mean averages every element into a 1x1 node.
func Mean(a *Node) *Node {
	return Scale(Sum(a), 1/float64(a.value.Len()))
}

// WeightedSum returns Σ w_i a_i as a 1x1 node. len(w) must equal a.Len().
func WeightedSum(a *Node, w []float64) *Node {
	if len(w) != a.value.Len() {
		panic(fmt.Sprintf("graph: WeightedSum of %s with %d weights", a.value, len(w)))
	}
	weights := anydiff.NewConst(NewVector(w))
	return a.tape.op(anydiff.Sum(anydiff.Mul(a.leaf, weights)), 1, 1, a)
}

// RowSums reduces each row of an RxC node to an Rx1 node.
func RowSums(a *Node) *Node {
	av := a.value
	return a.tape.op(matmul(a.leaf, av.Rows, av.Cols, ones(av.Cols, 1), av.Cols, 1), av.Rows, 1, a)
}

// GatherRows selects rows of a by idx. An index outside [0, a.Rows) selects
// a row of zeros, which is how reference and unseen levels are represented.
func GatherRows(a *Node, idx []int) *Node {
	av := a.value
	pick := constant(len(idx), av.Rows, func(i, r int) float64 {
		if idx[i] == r {
			return 1
		}
		return 0
	})
	return a.tape.op(matmul(pick, len(idx), av.Rows, a.leaf, av.Rows, av.Cols), len(idx), av.Cols, a)
}

// selector returns the in x out matrix that moves input column j to output
// column j+offset.
func selector(in, out, offset int) anydiff.Res {
	return constant(in, out, func(i, j int) float64 {
		if j == i+offset {
			return 1
		}
		return 0
	})
}

// ConcatCols joins a and b side by side. Both must have the same row count.
func ConcatCols(a, b *Node) *Node {
	av, bv := a.value, b.value
	if av.Rows != bv.Rows {
		panic(fmt.Sprintf("graph: ConcatCols %s with %s", av, bv))
	}
	cols := av.Cols + bv.Cols
	left := matmul(a.leaf, av.Rows, av.Cols, selector(av.Cols, cols, 0), av.Cols, cols)
	right := matmul(b.leaf, bv.Rows, bv.Cols, selector(bv.Cols, cols, av.Cols), bv.Cols, cols)
	return a.tape.op(anydiff.Add(left, right), av.Rows, cols, a, b)
}

// SliceCols returns columns [from, to) of a.
func SliceCols(a *Node, from, to int) *Node {
	av := a.value
	if from < 0 || to > av.Cols || from >= to {
		panic(fmt.Sprintf("graph: SliceCols [%d, %d) of %s", from, to, av))
	}
	cols := to - from
	return a.tape.op(matmul(a.leaf, av.Rows, av.Cols, selector(av.Cols, cols, -from), av.Cols, cols), av.Rows, cols, a)
}
