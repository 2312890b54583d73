package objective

import (
	"fmt"
	"strings"

	"gocdr/domain/core"
	"gocdr/internal/bayes"
	"gocdr/internal/graph"
)

// Config controls loss reduction and regularization.
type Config struct {
	OptimizerName string
	// ScaleLossWithData sums per-example losses and multiplies by
	// MinibatchScale (n_train / minibatch size) instead of averaging.
	ScaleLossWithData bool
	MinibatchScale    float64
	Regularizer       Regularizer
}

// Assembler combines likelihood, penalty and KL terms into one scalar.
type Assembler struct {
	cfg    Config
	filter *LossFilter
}

// NewAssembler fails immediately when no optimizer is named.
func NewAssembler(cfg Config, filter *LossFilter) (*Assembler, error) {
	if strings.TrimSpace(cfg.OptimizerName) == "" {
		return nil, core.ErrMissingOptimizer
	}
	if cfg.ScaleLossWithData && !(cfg.MinibatchScale > 0) {
		return nil, fmt.Errorf("%w: minibatch scale must be positive, got %v", core.ErrConfiguration, cfg.MinibatchScale)
	}
	if filter == nil {
		filter, _ = NewLossFilter(0, 0)
	}
	return &Assembler{cfg: cfg, filter: filter}, nil
}

// Filter returns the outlier filter.
func (a *Assembler) Filter() *LossFilter { return a.filter }

// Config returns the assembler settings.
func (a *Assembler) Config() Config { return a.cfg }

// Inputs are the terms of one objective.
type Inputs struct {
	// LogLik is the per-example log-likelihood.
	LogLik *graph.Node
	KL     bayes.KLPenalties
	// Weights are the regularizable parameters; their posterior means are
	// penalized.
	Weights []*bayes.LatentParameter
	// Filter applies the outlier filter to the likelihood term.
	Filter bool
}

// Objective is the assembled loss and its parts. RegLoss includes the KL
// term, which is also reported on its own.
type Objective struct {
	Loss           *graph.Node
	LikelihoodLoss *graph.Node
	RegLoss        *graph.Node
	KLLoss         *graph.Node
	NDropped       int
	// Losses are the unfiltered per-example negative log-likelihoods.
	Losses []float64
}

// Assemble records the objective on tp.
func (a *Assembler) Assemble(tp *graph.Tape, in Inputs) Objective {
	nll := graph.Scale(in.LogLik, -1)
	losses := append([]float64(nil), nll.Value().Data...)

	mask := make([]float64, len(losses))
	for i := range mask {
		mask[i] = 1
	}
	var dropped int
	if in.Filter {
		mask, dropped = a.filter.Mask(losses)
	}

	var retained float64
	for _, m := range mask {
		retained += m
	}
	w := make([]float64, len(mask))
	for i, m := range mask {
		switch {
		case m == 0:
		case a.cfg.ScaleLossWithData:
			w[i] = a.cfg.MinibatchScale
		default:
			w[i] = 1 / retained
		}
	}
	obj := Objective{
		LikelihoodLoss: graph.WeightedSum(nll, w),
		NDropped:       dropped,
		Losses:         losses,
	}

	penalty := tp.Scalar(0)
	if a.cfg.Regularizer != nil {
		for _, p := range in.Weights {
			penalty = graph.Add(penalty, a.cfg.Regularizer.Penalty(tp.Var(p.Loc)))
		}
	}
	obj.KLLoss = in.KL.Total(tp)
	obj.RegLoss = graph.Add(penalty, obj.KLLoss)
	obj.Loss = graph.Add(obj.LikelihoodLoss, obj.RegLoss)
	return obj
}
