package layers

import (
	"fmt"

	"gocdr/domain/core"
	"gocdr/internal/bayes"
	"gocdr/internal/graph"
)

// DenseConfig describes one feedforward projection.
type DenseConfig struct {
	Name        string
	Units       int
	Activation  string
	UseBias     bool
	DropoutRate float64
}

// Dense is x·W + b followed by an activation and inverted dropout. W and b
// are latent parameters.
type Dense struct {
	Name   string
	In     int
	Units  int
	Kernel *bayes.LatentParameter
	// Bias is nil when the layer has none.
	Bias *bayes.LatentParameter

	activation Activation
	dropout    float64
}

// NewDense registers the layer's parameters with s. Names are derived from
// cfg.Name, so building two layers under one name fails instead of sharing
// variables.
func NewDense(s *bayes.Suite, in int, cfg DenseConfig) (*Dense, error) {
	if in < 1 || cfg.Units < 1 {
		return nil, core.NewShapeError(cfg.Name+" dims", "positive", fmt.Sprintf("%dx%d", in, cfg.Units))
	}
	if cfg.DropoutRate < 0 || cfg.DropoutRate >= 1 {
		return nil, fmt.Errorf("%w: %s dropout rate %v", core.ErrConfiguration, cfg.Name, cfg.DropoutRate)
	}
	act, err := ParseActivation(cfg.Activation)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}
	kernel, err := s.Kernel(cfg.Name+"_kernel", in, cfg.Units)
	if err != nil {
		return nil, err
	}
	d := &Dense{Name: cfg.Name, In: in, Units: cfg.Units, Kernel: kernel, activation: act, dropout: cfg.DropoutRate}
	if cfg.UseBias {
		if d.Bias, err = s.Bias(cfg.Name+"_bias", cfg.Units); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Parameters lists every latent parameter of the layer.
func (d *Dense) Parameters() []*bayes.LatentParameter {
	if d.Bias == nil {
		return []*bayes.LatentParameter{d.Kernel}
	}
	return []*bayes.LatentParameter{d.Kernel, d.Bias}
}

// Weights lists the regularizable parameters; biases are excluded.
func (d *Dense) Weights() []*bayes.LatentParameter {
	return []*bayes.LatentParameter{d.Kernel}
}

// DenseDraw is a layer whose weights have been realized once. It can be
// applied to any number of inputs within the same pass.
type DenseDraw struct {
	layer  *Dense
	ctx    bayes.ExecContext
	tape   *graph.Tape
	kernel *graph.Node
	bias   *graph.Node
	KL     bayes.KLPenalties
}

// Realize draws the layer's weights under ctx.
func (d *Dense) Realize(ctx bayes.ExecContext, tp *graph.Tape) *DenseDraw {
	k := d.Kernel.Realize(ctx, tp)
	dd := &DenseDraw{layer: d, ctx: ctx, tape: tp, kernel: k.Value}
	dd.KL = dd.KL.Append(k.KL)
	if d.Bias != nil {
		b := d.Bias.Realize(ctx, tp)
		dd.bias = b.Value
		dd.KL = dd.KL.Append(b.KL)
	}
	return dd
}

// Apply projects x, which must have In columns.
func (dd *DenseDraw) Apply(x *graph.Node) *graph.Node {
	h := graph.MatMul(x, dd.kernel)
	if dd.bias != nil {
		h = graph.Add(h, dd.bias)
	}
	return dropout(dd.ctx, dd.tape, dd.layer.activation.Apply(h), dd.layer.dropout)
}

// Forward realizes the weights and applies them to x in one call.
func (d *Dense) Forward(ctx bayes.ExecContext, tp *graph.Tape, x *graph.Node) (*graph.Node, bayes.KLPenalties) {
	dd := d.Realize(ctx, tp)
	return dd.Apply(x), dd.KL
}

// Stack is a sequence of dense layers applied in order.
type Stack []*Dense

// NewStack builds len(cfgs) layers, each fed by the previous one.
func NewStack(s *bayes.Suite, in int, cfgs []DenseConfig) (Stack, error) {
	var st Stack
	for _, cfg := range cfgs {
		d, err := NewDense(s, in, cfg)
		if err != nil {
			return nil, err
		}
		st = append(st, d)
		in = cfg.Units
	}
	return st, nil
}

// Out is the width of the last layer, or in for an empty stack.
func (st Stack) Out(in int) int {
	if len(st) == 0 {
		return in
	}
	return st[len(st)-1].Units
}

// Parameters lists every layer's parameters in order.
func (st Stack) Parameters() []*bayes.LatentParameter {
	var out []*bayes.LatentParameter
	for _, d := range st {
		out = append(out, d.Parameters()...)
	}
	return out
}

// Weights lists every layer's regularizable parameters.
func (st Stack) Weights() []*bayes.LatentParameter {
	var out []*bayes.LatentParameter
	for _, d := range st {
		out = append(out, d.Weights()...)
	}
	return out
}

// StackDraw holds one realization of every layer of a Stack.
type StackDraw []*DenseDraw

// Realize draws all layers once.
func (st Stack) Realize(ctx bayes.ExecContext, tp *graph.Tape) (StackDraw, bayes.KLPenalties) {
	var (
		draws StackDraw
		kl    bayes.KLPenalties
	)
	for _, d := range st {
		dd := d.Realize(ctx, tp)
		draws = append(draws, dd)
		kl = kl.Append(dd.KL...)
	}
	return draws, kl
}

// Apply runs x through every realized layer.
func (sd StackDraw) Apply(x *graph.Node) *graph.Node {
	for _, dd := range sd {
		x = dd.Apply(x)
	}
	return x
}
