package bayes

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"gocdr/domain/core"
	"gocdr/internal/dist"
	"gocdr/internal/graph"
)

// Parameter kinds.
const (
	KindIntercept     = "intercept"
	KindCoefficient   = "coefficient"
	KindRNNHidden     = "rnn_h"
	KindRNNCell       = "rnn_c"
	KindHiddenBias    = "h_bias"
	KindIRFWeightBias = "irf_l1_W_bias"
	KindIRFInputBias  = "irf_l1_b_bias"
	KindKernel        = "kernel"
	KindBias          = "bias"
	KindOutput        = "output"
)

// Config holds the prior settings shared by every builder.
type Config struct {
	WeightPriorSD            ScaleSpec
	BiasPriorSD              ScaleSpec
	PosteriorToPriorSDRatio  float64
	RanefToFixefPriorSDRatio float64
	DeclarePriorsFixef       bool
	DeclarePriorsRanef       bool
	Constraint               dist.Constraint
	Epsilon                  float64
}

// Validate checks the ratios, floor and constraint.
func (c Config) Validate() error {
	if !(c.PosteriorToPriorSDRatio > 0) {
		return fmt.Errorf("%w: posterior_to_prior_sd_ratio must be positive, got %v", core.ErrConfiguration, c.PosteriorToPriorSDRatio)
	}
	if !(c.RanefToFixefPriorSDRatio > 0) {
		return fmt.Errorf("%w: ranef_to_fixef_prior_sd_ratio must be positive, got %v", core.ErrConfiguration, c.RanefToFixefPriorSDRatio)
	}
	if !(c.Epsilon > 0) {
		return fmt.Errorf("%w: epsilon must be positive, got %v", core.ErrConfiguration, c.Epsilon)
	}
	if c.Constraint == nil {
		return fmt.Errorf("%w: no scale constraint", core.ErrConfiguration)
	}
	if err := c.WeightPriorSD.Validate(); err != nil {
		return err
	}
	return c.BiasPriorSD.Validate()
}

// ParamSpec describes the fixed-effect form of one parameter.
type ParamSpec struct {
	Name string
	Kind string
	// Rows of the fixed effect; 0 means 1. Random effects always have
	// levels-1 rows.
	Rows int
	Cols int
	// Init is the fixed-effect prior location and initial posterior mean.
	Init float64
	// InitSD, when positive, jitters the initial fixed-effect posterior mean
	// around Init so that weight matrices are not symmetric at start.
	InitSD  float64
	PriorSD ScaleSpec
	FanIn   int
	FanOut  int
}

// Suite creates every latent parameter of one model and owns their names.
type Suite struct {
	cfg     Config
	factors *GroupingRegistry
	rng     *rand.Rand
	params  []*LatentParameter
	byName  map[string]*LatentParameter
}

// NewSuite validates cfg. rng seeds jittered initial means; nil uses a fixed
// seed.
func NewSuite(cfg Config, factors *GroupingRegistry, rng *rand.Rand) (*Suite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factors == nil {
		factors, _ = NewGroupingRegistry(nil)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}
	return &Suite{
		cfg:     cfg,
		factors: factors,
		rng:     rng,
		byName:  make(map[string]*LatentParameter),
	}, nil
}

// Config returns the suite's prior settings.
func (s *Suite) Config() Config { return s.cfg }

// Factors returns the grouping-factor registry.
func (s *Suite) Factors() *GroupingRegistry { return s.factors }

// Parameters lists every parameter in creation order.
func (s *Suite) Parameters() []*LatentParameter {
	return append([]*LatentParameter(nil), s.params...)
}

// Lookup finds a parameter by name.
func (s *Suite) Lookup(name string) (*LatentParameter, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Build creates one parameter for the given effect. A fixed effect has the
// spec's shape, prior N(Init, base) and starts at Init. A random effect has
// shape [levels-1, Cols], prior N(0, base*ranef_to_fixef) and starts at 0.
// Either way the posterior scale starts at prior scale times
// posterior_to_prior.
func (s *Suite) Build(spec ParamSpec, effect Effect) (*LatentParameter, error) {
	if spec.Cols < 1 {
		return nil, core.NewShapeError(spec.Name+" columns", ">= 1", spec.Cols)
	}
	base, err := ResolveScale(spec.PriorSD, spec.FanIn, spec.FanOut)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}

	var (
		name     string
		rows     int
		priorLoc float64
		priorSD  float64
		declare  bool
	)
	switch e := effect.(type) {
	case Fixed:
		name = spec.Name
		rows = spec.Rows
		if rows < 1 {
			rows = 1
		}
		priorLoc = spec.Init
		priorSD = base
		declare = s.cfg.DeclarePriorsFixef
	case Random:
		gf, err := s.factors.Lookup(e.Factor)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Name, err)
		}
		name = spec.Name + "_by_" + sanitize(gf.Name)
		rows = gf.Dim()
		priorSD = base * s.cfg.RanefToFixefPriorSDRatio
		declare = s.cfg.DeclarePriorsRanef
	default:
		return nil, fmt.Errorf("%w: %s: unsupported effect %T", core.ErrConfiguration, spec.Name, effect)
	}
	if _, dup := s.byName[name]; dup {
		return nil, core.NewDuplicateParameterError(name)
	}

	loc := graph.Full(rows, spec.Cols, priorLoc)
	if _, fixed := effect.(Fixed); fixed && spec.InitSD > 0 {
		jitter := distuv.Normal{Mu: 0, Sigma: spec.InitSD, Src: s.rng}
		for i := range loc.Data {
			loc.Data[i] += jitter.Rand()
		}
	}
	postSD := priorSD * s.cfg.PosteriorToPriorSDRatio
	raw := graph.Full(rows, spec.Cols, s.cfg.Constraint.Inverse(postSD))

	p := &LatentParameter{
		Name:       name,
		Kind:       spec.Kind,
		Effect:     effect,
		Loc:        graph.NewVariable(name+"_q_loc", loc),
		RawScale:   graph.NewVariable(name+"_q_scale", raw),
		constraint: s.cfg.Constraint,
		epsilon:    s.cfg.Epsilon,
	}
	if declare {
		p.Prior = &Prior{Loc: priorLoc, Scale: priorSD}
	}
	s.params = append(s.params, p)
	s.byName[name] = p
	return p, nil
}

// Term is a fixed effect plus one random effect per listed grouping factor.
type Term struct {
	Fixed  *LatentParameter
	Random []*LatentParameter
	// Factors[i] is the grouping factor of Random[i].
	Factors []string
}

// Term builds the fixed effect and the requested random effects of spec.
func (s *Suite) Term(spec ParamSpec, ranef ...string) (*Term, error) {
	fixed, err := s.Build(spec, Fixed{})
	if err != nil {
		return nil, err
	}
	t := &Term{Fixed: fixed}
	for _, gf := range ranef {
		p, err := s.Build(spec, Random{Factor: gf})
		if err != nil {
			return nil, err
		}
		t.Random = append(t.Random, p)
		t.Factors = append(t.Factors, gf)
	}
	return t, nil
}

// Parameters lists the fixed effect followed by the random effects.
func (t *Term) Parameters() []*LatentParameter {
	return append([]*LatentParameter{t.Fixed}, t.Random...)
}

// Realize adds the per-observation random-effect rows selected by levels to
// the fixed effect. levels maps a factor name to one level index per
// observation; a missing factor, the reference level and unseen levels (-1)
// all contribute zero. Without random effects the result keeps the fixed
// effect's shape.
func (t *Term) Realize(ctx ExecContext, tp *graph.Tape, levels map[string][]int) (value, summary *graph.Node, kl KLPenalties) {
	d := t.Fixed.Realize(ctx, tp)
	value, summary = d.Value, d.Summary
	kl = kl.Append(d.KL)
	for i, p := range t.Random {
		idx, ok := levels[t.Factors[i]]
		r := p.Realize(ctx, tp)
		kl = kl.Append(r.KL)
		if !ok {
			continue
		}
		value = graph.Add(value, graph.GatherRows(r.Value, idx))
		summary = graph.Add(summary, graph.GatherRows(r.Summary, idx))
	}
	return value, summary, kl
}

// Intercept builds the response intercept.
func (s *Suite) Intercept(init float64, priorSD ScaleSpec, ranef ...string) (*Term, error) {
	return s.Term(ParamSpec{Name: "intercept", Kind: KindIntercept, Cols: 1, Init: init, PriorSD: priorSD, FanIn: 1, FanOut: 1}, ranef...)
}

// Coefficient builds one coefficient per predictor.
func (s *Suite) Coefficient(n int, priorSD ScaleSpec, ranef ...string) (*Term, error) {
	return s.Term(ParamSpec{Name: "coefficient", Kind: KindCoefficient, Cols: n, PriorSD: priorSD, FanIn: n, FanOut: 1}, ranef...)
}

// RNNHidden builds the initial hidden state of recurrent layer l.
func (s *Suite) RNNHidden(l, units int, ranef ...string) (*Term, error) {
	return s.biasTerm(fmt.Sprintf("rnn_h_l%d", l+1), KindRNNHidden, units, s.cfg.BiasPriorSD, ranef)
}

// RNNCell builds the initial cell state of recurrent layer l.
func (s *Suite) RNNCell(l, units int, ranef ...string) (*Term, error) {
	return s.biasTerm(fmt.Sprintf("rnn_c_l%d", l+1), KindRNNCell, units, s.cfg.BiasPriorSD, ranef)
}

// HiddenBias builds the bias added to the recurrent output. Its random
// effects use the same ranef_to_fixef scaling as every other kind.
func (s *Suite) HiddenBias(units int, ranef ...string) (*Term, error) {
	return s.biasTerm("h_bias", KindHiddenBias, units, s.cfg.BiasPriorSD, ranef)
}

// IRFWeightBias builds the bias on the time-delta embedding weights.
func (s *Suite) IRFWeightBias(units int, ranef ...string) (*Term, error) {
	return s.biasTerm("irf_l1_W_bias", KindIRFWeightBias, units, s.cfg.WeightPriorSD, ranef)
}

// IRFInputBias builds the bias on the time-delta embedding input.
func (s *Suite) IRFInputBias(units int, ranef ...string) (*Term, error) {
	return s.biasTerm("irf_l1_b_bias", KindIRFInputBias, units, s.cfg.BiasPriorSD, ranef)
}

func (s *Suite) biasTerm(name, kind string, units int, sd ScaleSpec, ranef []string) (*Term, error) {
	return s.Term(ParamSpec{Name: name, Kind: kind, Cols: units, PriorSD: sd, FanIn: units, FanOut: 1}, ranef...)
}

// Kernel builds a fixed-effect [in, out] weight matrix whose initial mean is
// drawn around zero with the resolved weight prior scale.
func (s *Suite) Kernel(name string, in, out int) (*LatentParameter, error) {
	sd, err := ResolveScale(s.cfg.WeightPriorSD, in, out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s.Build(ParamSpec{
		Name: name, Kind: KindKernel, Rows: in, Cols: out,
		InitSD: sd, PriorSD: s.cfg.WeightPriorSD, FanIn: in, FanOut: out,
	}, Fixed{})
}

// Bias builds a fixed-effect [1, units] bias starting at zero.
func (s *Suite) Bias(name string, units int) (*LatentParameter, error) {
	return s.Build(ParamSpec{Name: name, Kind: KindBias, Cols: units, PriorSD: s.cfg.BiasPriorSD, FanIn: units, FanOut: 1}, Fixed{})
}

// Scalar builds a fixed-effect 1x1 parameter with an explicit prior, used for
// output-distribution parameters that live in unconstrained space.
func (s *Suite) Scalar(name string, init, priorSD float64) (*LatentParameter, error) {
	return s.Build(ParamSpec{Name: name, Kind: KindOutput, Cols: 1, Init: init, PriorSD: Numeric(priorSD), FanIn: 1, FanOut: 1}, Fixed{})
}
