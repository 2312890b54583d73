// Package output builds the predictive error distribution of the response.
package output

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gocdr/domain/core"
	"gocdr/internal"
	"gocdr/internal/bayes"
	"gocdr/internal/dist"
	"gocdr/internal/graph"
)

// State is the fixed combination of error family and response units.
type State struct {
	Asymmetric   bool
	Standardized bool
}

func (s State) String() string {
	family, units := "normal", "raw"
	if s.Asymmetric {
		family = "sinharcsinh"
	}
	if s.Standardized {
		units = "standardized"
	}
	return family + "-" + units
}

// Config selects the state and the priors of the output parameters.
type Config struct {
	Asymmetric   bool
	Standardize  bool
	YSDTrainable bool
	// YSDInit is the initial (or fixed) error scale in modelled units.
	YSDInit            float64
	YSDPriorSD         float64
	SkewnessPriorSD    float64
	TailweightPriorLoc float64
	TailweightPriorSD  float64
	TrainMean          float64
	TrainSD            float64
}

// Model owns y_sd and, for the asymmetric family, y_skewness and
// y_tailweight. y_sd and y_tailweight live in unconstrained space and reach
// a distribution only through constraint+epsilon.
type Model struct {
	state      State
	cfg        Config
	constraint dist.Constraint
	epsilon    float64

	// YSD is nil when the scale is fixed.
	YSD        *bayes.LatentParameter
	ySDRaw     float64
	Skewness   *bayes.LatentParameter
	Tailweight *bayes.LatentParameter
}

// New registers the output parameters with s.
func New(s *bayes.Suite, cfg Config, logger *internal.Logger) (*Model, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if !(cfg.TrainSD > 0) || math.IsInf(cfg.TrainSD, 0) || math.IsNaN(cfg.TrainMean) {
		return nil, fmt.Errorf("%w: training response sd must be positive, got %v", core.ErrConfiguration, cfg.TrainSD)
	}
	if !(cfg.YSDInit > 0) {
		return nil, fmt.Errorf("%w: y_sd_init must be positive, got %v", core.ErrConfiguration, cfg.YSDInit)
	}

	bc := s.Config()
	m := &Model{
		state:      State{Asymmetric: cfg.Asymmetric, Standardized: cfg.Standardize},
		cfg:        cfg,
		constraint: bc.Constraint,
		epsilon:    bc.Epsilon,
		ySDRaw:     bc.Constraint.Inverse(cfg.YSDInit),
	}

	var err error
	if cfg.YSDTrainable {
		if m.YSD, err = s.Scalar("y_sd", m.ySDRaw, cfg.YSDPriorSD); err != nil {
			return nil, err
		}
	} else {
		logger.Info("fixed y scale: %g", cfg.YSDInit)
	}
	if cfg.Asymmetric {
		if m.Skewness, err = s.Scalar("y_skewness", 0, cfg.SkewnessPriorSD); err != nil {
			return nil, err
		}
		twLoc := cfg.TailweightPriorLoc
		if twLoc <= 0 {
			twLoc = 1
		}
		if m.Tailweight, err = s.Scalar("y_tailweight", bc.Constraint.Inverse(twLoc), cfg.TailweightPriorSD); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// State returns the model's fixed state.
func (m *Model) State() State { return m.state }

// Config returns the construction settings.
func (m *Model) Config() Config { return m.cfg }

// Parameters lists the latent output parameters.
func (m *Model) Parameters() []*bayes.LatentParameter {
	var out []*bayes.LatentParameter
	for _, p := range []*bayes.LatentParameter{m.YSD, m.Skewness, m.Tailweight} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Params are realized, constrained output parameters on a tape. Skewness and
// Tailweight are nil for the Normal family.
type Params struct {
	Scale      *graph.Node
	Skewness   *graph.Node
	Tailweight *graph.Node
}

// Values reads the scalar values of p.
func (p Params) Values() Values {
	v := Values{Scale: p.Scale.Scalar(), Tailweight: 1}
	if p.Skewness != nil {
		v.Skewness = p.Skewness.Scalar()
	}
	if p.Tailweight != nil {
		v.Tailweight = p.Tailweight.Scalar()
	}
	return v
}

// Values are output parameters in modelled units.
type Values struct {
	Scale      float64 `json:"scale"`
	Skewness   float64 `json:"skewness"`
	Tailweight float64 `json:"tailweight"`
}

// Realize draws the output parameters under ctx. value follows the mode and
// summary is built from posterior means.
func (m *Model) Realize(ctx bayes.ExecContext, tp *graph.Tape) (value, summary Params, kl bayes.KLPenalties) {
	if m.YSD != nil {
		d := m.YSD.Realize(ctx, tp)
		value.Scale = dist.PositiveNode(m.constraint, d.Value, m.epsilon)
		summary.Scale = dist.PositiveNode(m.constraint, d.Summary, m.epsilon)
		kl = kl.Append(d.KL)
	} else {
		fixed := tp.Scalar(dist.Positive(m.constraint, m.ySDRaw, m.epsilon))
		value.Scale, summary.Scale = fixed, fixed
	}
	if m.state.Asymmetric {
		sk := m.Skewness.Realize(ctx, tp)
		tw := m.Tailweight.Realize(ctx, tp)
		value.Skewness, summary.Skewness = sk.Value, sk.Summary
		value.Tailweight = dist.PositiveNode(m.constraint, tw.Value, m.epsilon)
		summary.Tailweight = dist.PositiveNode(m.constraint, tw.Summary, m.epsilon)
		kl = kl.Append(sk.KL, tw.KL)
	}
	return value, summary, kl
}

// SummaryValues returns the posterior-mean output parameters.
func (m *Model) SummaryValues() Values {
	_, summary, _ := m.Realize(bayes.Evaluation(), graph.NewTape())
	return summary.Values()
}

// Evaluation is the output model applied to one batch.
type Evaluation struct {
	Params  Params
	Summary Params
	// LogLik is the per-observation log-likelihood in modelled units.
	// Training maximizes LogLikRaw, which differs from it by the constant
	// log(train_sd) when the response is standardized, so both share
	// gradients.
	LogLik             *graph.Node
	LogLikRaw          *graph.Node
	LogLikStandardized *graph.Node
	KL                 bayes.KLPenalties
}

// Evaluate scores raw responses y against the network output out ([N, 1],
// modelled units).
func (m *Model) Evaluate(ctx bayes.ExecContext, tp *graph.Tape, out *graph.Node, y []float64) (Evaluation, error) {
	if out.Cols() != 1 || out.Rows() != len(y) {
		return Evaluation{}, core.NewShapeError("output vs response", fmt.Sprintf("%dx1", len(y)), out.Value().String())
	}
	value, summary, kl := m.Realize(ctx, tp)
	ev := Evaluation{Params: value, Summary: summary, KL: kl}

	target := make([]float64, len(y))
	for i, v := range y {
		target[i] = m.toModelled(v)
	}
	yt := graph.Column(target)

	if m.state.Asymmetric {
		ev.LogLik = graph.LogDensity(yt, func(y float64, p []float64) float64 {
			return dist.SinhArcsinhLogProb(y, p[0], p[1], p[2], p[3])
		}, out, value.Scale, value.Skewness, value.Tailweight)
	} else {
		ev.LogLik = graph.NormalLogProb(yt, out, value.Scale)
	}

	logSD := math.Log(m.cfg.TrainSD)
	if m.state.Standardized {
		ev.LogLikStandardized = ev.LogLik
		ev.LogLikRaw = graph.AddScalar(ev.LogLik, -logSD)
	} else {
		ev.LogLikRaw = ev.LogLik
		ev.LogLikStandardized = graph.AddScalar(ev.LogLik, logSD)
	}
	return ev, nil
}

// Standardize maps a raw response onto the standardized scale.
func (m *Model) Standardize(raw float64) float64 {
	return (raw - m.cfg.TrainMean) / m.cfg.TrainSD
}

// Destandardize maps a standardized response back to raw units.
func (m *Model) Destandardize(std float64) float64 {
	return std*m.cfg.TrainSD + m.cfg.TrainMean
}

func (m *Model) toModelled(raw float64) float64 {
	if m.state.Standardized {
		return m.Standardize(raw)
	}
	return raw
}

// fromModelled maps modelled units onto the requested units: (a, b) with
// requested = a*modelled + b.
func (m *Model) fromModelled(standardized bool) (a, b float64) {
	switch {
	case m.state.Standardized && !standardized:
		return m.cfg.TrainSD, m.cfg.TrainMean
	case !m.state.Standardized && standardized:
		return 1 / m.cfg.TrainSD, -m.cfg.TrainMean / m.cfg.TrainSD
	}
	return 1, 0
}

// OutputDist is the predictive distribution of one observation whose network
// output is loc (modelled units), expressed in standardized or raw units.
func (m *Model) OutputDist(loc float64, v Values, standardized bool, src rand.Source) dist.Distribution {
	a, b := m.fromModelled(standardized)
	if m.state.Asymmetric {
		return dist.NewSinhArcsinh(loc, v.Scale, v.Skewness, v.Tailweight, src).Affine(a, b)
	}
	return dist.NewNormal(loc, v.Scale, src).Affine(a, b)
}

// ErrorDist is the location-zero error distribution in standardized or raw
// units.
func (m *Model) ErrorDist(v Values, standardized bool) dist.Distribution {
	a, _ := m.fromModelled(standardized)
	if m.state.Asymmetric {
		return dist.NewSinhArcsinh(0, v.Scale, v.Skewness, v.Tailweight, nil).Affine(a, 0)
	}
	return dist.NewNormal(0, v.Scale, nil).Affine(a, 0)
}

// Predict turns network outputs into predictions: the predictive mean in MAP
// mode and a predictive draw in Sample mode.
func (m *Model) Predict(out []float64, v Values, standardized bool, ctx bayes.ExecContext) []float64 {
	preds := make([]float64, len(out))
	for i, loc := range out {
		d := m.OutputDist(loc, v, standardized, ctx.RNG())
		if ctx.Mode() == bayes.Sample {
			preds[i] = d.Rand()
		} else {
			preds[i] = d.Mean()
		}
	}
	return preds
}
