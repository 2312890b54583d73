package optim

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"

	"gocdr/internal/graph"
)

// slots keeps one auxiliary buffer per parameter.
type slots map[*anydiff.Var][]float64

func (s slots) get(v *anydiff.Var, n int, init float64) []float64 {
	buf, ok := s[v]
	if !ok {
		buf = make([]float64, n)
		for i := range buf {
			buf[i] = init
		}
		s[v] = buf
	}
	return buf
}

func setFloats(v anyvec.Vector, data []float64) {
	v.SetData(v.Creator().MakeNumericList(data))
}

// adaGrad divides each gradient by the root of its accumulated squares.
type adaGrad struct {
	acc slots
}

func newAdaGrad() *adaGrad {
	return &adaGrad{acc: slots{}}
}

func (a *adaGrad) Transform(g anydiff.Grad) anydiff.Grad {
	for v, vec := range g {
		gs := graph.Floats(vec)
		acc := a.acc.get(v, len(gs), 0.1)
		for i, x := range gs {
			acc[i] += x * x
			gs[i] = x / math.Sqrt(acc[i])
		}
		setFloats(vec, gs)
	}
	return g
}

// nadam is Adam with a Nesterov look-ahead on the first moment.
type nadam struct {
	b1, b2, eps float64
	t           int
	m, s        slots
}

func newNadam() *nadam {
	return &nadam{b1: 0.9, b2: 0.999, eps: 1e-8, m: slots{}, s: slots{}}
}

func (o *nadam) Transform(g anydiff.Grad) anydiff.Grad {
	o.t++
	c1 := 1 - math.Pow(o.b1, float64(o.t))
	c2 := 1 - math.Pow(o.b2, float64(o.t))
	for v, vec := range g {
		gs := graph.Floats(vec)
		m, s := o.m.get(v, len(gs), 0), o.s.get(v, len(gs), 0)
		for i, x := range gs {
			m[i] = o.b1*m[i] + (1-o.b1)*x
			s[i] = o.b2*s[i] + (1-o.b2)*x*x
			mHat := o.b1*m[i]/c1 + (1-o.b1)*x/c1
			gs[i] = mHat / (math.Sqrt(s[i]/c2) + o.eps)
		}
		setFloats(vec, gs)
	}
	return g
}
