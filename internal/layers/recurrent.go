package layers

import (
	"fmt"

	"gocdr/domain/core"
	"gocdr/internal/bayes"
	"gocdr/internal/graph"
)

// RecurrentConfig describes one LSTM layer.
type RecurrentConfig struct {
	Name  string
	Units int
	// TimeProjectionDepth is the number of dense layers that map each
	// step's time delta onto the gate pre-activations. 0 disables it.
	TimeProjectionDepth int
	TimeProjectionUnits int
	Activation          string
	RecurrentActivation string
	BottomUpDropout     float64
	HDropout            float64
}

// Recurrent is an LSTM whose input kernel, recurrent kernel, bias and time
// projection are latent parameters. Gate blocks are laid out as
// [input | forget | output | candidate] along the 4·Units axis.
type Recurrent struct {
	Name            string
	In              int
	Units           int
	Kernel          *bayes.LatentParameter
	RecurrentKernel *bayes.LatentParameter
	Bias            *bayes.LatentParameter
	TimeProjection  Stack

	activation    Activation
	recActivation Activation
	bottomUp      float64
	hDropout      float64
}

// NewRecurrent registers the layer's parameters with s.
func NewRecurrent(s *bayes.Suite, in int, cfg RecurrentConfig) (*Recurrent, error) {
	if in < 1 || cfg.Units < 1 {
		return nil, core.NewShapeError(cfg.Name+" dims", "positive", fmt.Sprintf("%dx%d", in, cfg.Units))
	}
	for _, rate := range []float64{cfg.BottomUpDropout, cfg.HDropout} {
		if rate < 0 || rate >= 1 {
			return nil, fmt.Errorf("%w: %s dropout rate %v", core.ErrConfiguration, cfg.Name, rate)
		}
	}
	if cfg.Activation == "" {
		cfg.Activation = "tanh"
	}
	if cfg.RecurrentActivation == "" {
		cfg.RecurrentActivation = "sigmoid"
	}
	act, err := ParseActivation(cfg.Activation)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}
	recAct, err := ParseActivation(cfg.RecurrentActivation)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}

	gates := 4 * cfg.Units
	r := &Recurrent{
		Name: cfg.Name, In: in, Units: cfg.Units,
		activation: act, recActivation: recAct,
		bottomUp: cfg.BottomUpDropout, hDropout: cfg.HDropout,
	}
	if r.Kernel, err = s.Kernel(cfg.Name+"_kernel", in, gates); err != nil {
		return nil, err
	}
	if r.RecurrentKernel, err = s.Kernel(cfg.Name+"_recurrent_kernel", cfg.Units, gates); err != nil {
		return nil, err
	}
	if r.Bias, err = s.Bias(cfg.Name+"_bias", gates); err != nil {
		return nil, err
	}

	if cfg.TimeProjectionDepth > 0 {
		units := cfg.TimeProjectionUnits
		if units < 1 {
			units = cfg.Units
		}
		var cfgs []DenseConfig
		for l := 0; l < cfg.TimeProjectionDepth; l++ {
			dc := DenseConfig{Name: fmt.Sprintf("%s_t_l%d", cfg.Name, l+1), Units: units, Activation: cfg.Activation, UseBias: true}
			if l == cfg.TimeProjectionDepth-1 {
				dc.Units, dc.Activation, dc.UseBias = gates, "", false
			}
			cfgs = append(cfgs, dc)
		}
		if r.TimeProjection, err = NewStack(s, 1, cfgs); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Parameters lists every latent parameter of the layer.
func (r *Recurrent) Parameters() []*bayes.LatentParameter {
	out := []*bayes.LatentParameter{r.Kernel, r.RecurrentKernel, r.Bias}
	return append(out, r.TimeProjection.Parameters()...)
}

// Weights lists the regularizable parameters.
func (r *Recurrent) Weights() []*bayes.LatentParameter {
	out := []*bayes.LatentParameter{r.Kernel, r.RecurrentKernel}
	return append(out, r.TimeProjection.Weights()...)
}

// Forward runs the cell over the steps xs, each [N, In]. tDeltas holds one
// [N, 1] time delta per step and may be nil when there is no time
// projection. h0 and c0 are [N, Units] or [1, Units] initial states. It
// returns the hidden state of every step and the final cell state. Every
// parameter is realized once for the whole sequence.
func (r *Recurrent) Forward(ctx bayes.ExecContext, tp *graph.Tape, xs, tDeltas []*graph.Node, h0, c0 *graph.Node) ([]*graph.Node, *graph.Node, bayes.KLPenalties) {
	if len(r.TimeProjection) > 0 && len(tDeltas) != len(xs) {
		panic(fmt.Sprintf("layers: %s got %d steps and %d time deltas", r.Name, len(xs), len(tDeltas)))
	}
	k := r.Kernel.Realize(ctx, tp)
	rk := r.RecurrentKernel.Realize(ctx, tp)
	b := r.Bias.Realize(ctx, tp)
	kl := bayes.KLPenalties{}.Append(k.KL, rk.KL, b.KL)
	proj, projKL := r.TimeProjection.Realize(ctx, tp)
	kl = kl.Append(projKL...)

	u := r.Units
	h, c := h0, c0
	hs := make([]*graph.Node, len(xs))
	for t, x := range xs {
		x = dropout(ctx, tp, x, r.bottomUp)
		hIn := dropout(ctx, tp, h, r.hDropout)
		z := graph.Add(graph.Add(graph.MatMul(x, k.Value), graph.MatMul(hIn, rk.Value)), b.Value)
		if len(proj) > 0 {
			z = graph.Add(z, proj.Apply(tDeltas[t]))
		}
		i := r.recActivation.Apply(graph.SliceCols(z, 0, u))
		f := r.recActivation.Apply(graph.SliceCols(z, u, 2*u))
		o := r.recActivation.Apply(graph.SliceCols(z, 2*u, 3*u))
		g := r.activation.Apply(graph.SliceCols(z, 3*u, 4*u))
		c = graph.Add(graph.Mul(f, c), graph.Mul(i, g))
		h = graph.Mul(o, r.activation.Apply(c))
		hs[t] = h
	}
	return hs, c, kl
}

func dropout(ctx bayes.ExecContext, tp *graph.Tape, x *graph.Node, rate float64) *graph.Node {
	mask := ctx.DropoutMask(x.Rows()*x.Cols(), rate)
	if mask == nil {
		return x
	}
	return graph.Mul(x, tp.Const(graph.Tensor{Rows: x.Rows(), Cols: x.Cols(), Data: mask}))
}
