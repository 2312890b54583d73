// Package optim holds the gradient-descent optimizers a model can be
// trained with, looked up by name. Each is an anysgd.Transformer over the
// variables' anydiff handles followed by a learning-rate scaled step.
package optim

import (
	"fmt"
	"sort"
	"strings"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"

	"gocdr/domain/core"
	"gocdr/internal/graph"
)

// Optimizer updates variables in place from their accumulated gradients.
type Optimizer interface {
	Name() string
	Step(vars []*graph.Variable)
}

type constructor func() (string, anysgd.Transformer)

var registry = map[string]constructor{
	"sgd":      func() (string, anysgd.Transformer) { return "SGD", nil },
	"momentum": func() (string, anysgd.Transformer) { return "Momentum", &anysgd.Momentum{Momentum: 0.9} },
	"adagrad":  func() (string, anysgd.Transformer) { return "AdaGrad", newAdaGrad() },
	"rmsprop":  func() (string, anysgd.Transformer) { return "RMSProp", &anysgd.RMSProp{DecayRate: 0.9} },
	"adam":     func() (string, anysgd.Transformer) { return "Adam", &anysgd.Adam{} },
	"nadam":    func() (string, anysgd.Transformer) { return "Nadam", newNadam() },
}

// Names lists the registered optimizer names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// New builds the named optimizer. Names are case-insensitive.
func New(name string, learningRate float64) (Optimizer, error) {
	if strings.TrimSpace(name) == "" {
		return nil, core.ErrMissingOptimizer
	}
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", core.ErrUnknownOptimizer, name, Names())
	}
	if !(learningRate > 0) {
		return nil, fmt.Errorf("%w: learning rate must be positive, got %v", core.ErrConfiguration, learningRate)
	}
	display, tr := ctor()
	return &Descent{name: display, LR: learningRate, Transformer: tr}, nil
}

// Descent steps every variable by -LR times its (transformed) gradient.
type Descent struct {
	LR          float64
	Transformer anysgd.Transformer

	name string
}

func (d *Descent) Name() string { return d.name }

func (d *Descent) Step(vars []*graph.Variable) {
	params := make([]*anydiff.Var, len(vars))
	grad := anydiff.Grad{}
	for i, v := range vars {
		params[i] = v.Param()
		grad[params[i]] = v.GradVector()
	}
	if d.Transformer != nil {
		grad = d.Transformer.Transform(grad)
	}
	for i, v := range vars {
		step := grad[params[i]]
		step.Scale(-d.LR)
		params[i].Vector.Add(step)
		v.Commit()
	}
}
