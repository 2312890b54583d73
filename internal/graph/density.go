package graph

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"gonum.org/v1/gonum/diff/fd"
)

const halfLog2Pi = 0.91893853320467274178032973640562

// NormalLogProb evaluates the Normal log-density of the observations y under
// loc and scale. loc and scale broadcast to y's shape.
func NormalLogProb(y Tensor, loc, scale *Node) *Node {
	checkBroadcast(y, loc.value)
	checkBroadcast(y, scale.value)
	l, s := expand(loc, y.Rows, y.Cols), expand(scale, y.Rows, y.Cols)
	logS := anydiff.Log(s)
	z := anydiff.Mul(anydiff.Sub(anydiff.NewConst(NewVector(y.Data)), l), anydiff.Exp(anydiff.Scale(logS, -1.0)))
	out := anydiff.AddScalar(anydiff.Sub(anydiff.Scale(anydiff.Mul(z, z), -0.5), logS), -halfLog2Pi)
	return loc.tape.op(out, y.Rows, y.Cols, loc, scale)
}

// NormalKL returns the elementwise KL(q || p) between the Normal posterior
// (qLoc, qScale) and a fixed Normal prior (pLoc, pScale).
func NormalKL(qLoc, qScale *Node, pLoc, pScale float64) *Node {
	lv, sv := qLoc.value, qScale.value
	if !lv.SameShape(sv) {
		panic(fmt.Sprintf("graph: NormalKL loc %s scale %s", lv, sv))
	}
	d := anydiff.AddScalar(qLoc.leaf, -pLoc)
	s := qScale.leaf
	ratio := anydiff.Scale(anydiff.Add(anydiff.Mul(s, s), anydiff.Mul(d, d)), 1/(2*pScale*pScale))
	out := anydiff.AddScalar(anydiff.Sub(ratio, anydiff.Log(s)), math.Log(pScale)-0.5)
	return qLoc.tape.op(out, lv.Rows, lv.Cols, qLoc, qScale)
}

// LogDensity evaluates an arbitrary scalar log-density elementwise over y.
// Each params node broadcasts to y's shape; its value at an element is
// passed to logpdf in the same order. Parameter gradients are taken by
// central finite differences, so logpdf must be smooth in its parameters.
func LogDensity(y Tensor, logpdf func(y float64, params []float64) float64, params ...*Node) *Node {
	if len(params) == 0 {
		panic("graph: LogDensity needs at least one parameter node")
	}
	res := &densityRes{y: y, logpdf: logpdf}
	var sets []anydiff.VarSet
	for _, p := range params {
		checkBroadcast(y, p.value)
		e := expand(p, y.Rows, y.Cols)
		res.params = append(res.params, e)
		res.values = append(res.values, Floats(e.Output()))
		sets = append(sets, e.Vars())
	}
	res.vars = anydiff.MergeVarSets(sets...)
	out := make([]float64, y.Len())
	at := make([]float64, len(params))
	for k, yk := range y.Data {
		res.gather(k, at)
		out[k] = logpdf(yk, at)
	}
	res.out = NewVector(out)
	return params[0].tape.op(res, y.Rows, y.Cols, params...)
}

// densityRes is an anydiff.Res whose parameter gradients come from gonum's
// finite differences.
type densityRes struct {
	y      Tensor
	logpdf func(y float64, params []float64) float64
	params []anydiff.Res
	values [][]float64
	vars   anydiff.VarSet
	out    anyvec.Vector
}

func (d *densityRes) gather(k int, at []float64) {
	for p, v := range d.values {
		at[p] = v[k]
	}
}

func (d *densityRes) Output() anyvec.Vector { return d.out }

func (d *densityRes) Vars() anydiff.VarSet { return d.vars }

func (d *densityRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	up := Floats(u)
	grads := make([][]float64, len(d.params))
	for p := range grads {
		grads[p] = make([]float64, len(up))
	}
	settings := &fd.Settings{Formula: fd.Central, Step: 1e-5}
	at := make([]float64, len(d.params))
	grad := make([]float64, len(d.params))
	for k, uk := range up {
		if uk == 0 {
			continue
		}
		d.gather(k, at)
		yk := d.y.Data[k]
		fd.Gradient(grad, func(x []float64) float64 { return d.logpdf(yk, x) }, at, settings)
		for p := range grads {
			grads[p][k] = uk * grad[p]
		}
	}
	for p, param := range d.params {
		if g.Intersects(param.Vars()) {
			param.Propagate(NewVector(grads[p]), g)
		}
	}
}

func checkBroadcast(y, t Tensor) {
	if (t.Rows != 1 && t.Rows != y.Rows) || (t.Cols != 1 && t.Cols != y.Cols) {
		panic(fmt.Sprintf("graph: %s does not broadcast to %s", t, y))
	}
}
