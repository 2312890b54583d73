package testkit

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gocdr/internal/bayes"
	"gocdr/internal/cdr"
)

// ImpulseGeneratorConfig configures the synthetic impulse/response generator
type ImpulseGeneratorConfig struct {
	Observations  int                    `json:"observations"`
	Impulses      int                    `json:"impulses"`
	HistoryLength int                    `json:"history_length"`
	Coefficients  []float64              `json:"coefficients"` // one per impulse; defaults to 1, -0.5, 1, ...
	DecayRate     float64                `json:"decay_rate"`   // exponential IRF rate
	Intercept     float64                `json:"intercept"`
	NoiseSD       float64                `json:"noise_sd"`
	Factors       []bayes.GroupingFactor `json:"factors"`
	FactorSD      float64                `json:"factor_sd"` // spread of per-level intercept offsets
	Seed          uint64                 `json:"seed"`
}

// DefaultImpulseConfig returns sensible defaults for impulse data generation
func DefaultImpulseConfig() ImpulseGeneratorConfig {
	return ImpulseGeneratorConfig{
		Observations:  64,
		Impulses:      2,
		HistoryLength: 4,
		DecayRate:     1,
		Intercept:     3,
		NoiseSD:       0.1,
		Factors:       []bayes.GroupingFactor{{Name: "subject", Levels: 3}},
		FactorSD:      0.5,
		Seed:          42,
	}
}

// ImpulseGenerator draws impulse histories and responses whose true IRF is
// coef_k * exp(-rate * delta).
type ImpulseGenerator struct {
	config ImpulseGeneratorConfig
	rng    *rand.Rand
}

// NewImpulseGenerator creates a new generator
func NewImpulseGenerator(config ImpulseGeneratorConfig) *ImpulseGenerator {
	return &ImpulseGenerator{
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, config.Seed+1)),
	}
}

// Names returns the impulse names x1..xK.
func (g *ImpulseGenerator) Names() []string {
	names := make([]string, g.config.Impulses)
	for k := range names {
		names[k] = fmt.Sprintf("x%d", k+1)
	}
	return names
}

func (g *ImpulseGenerator) coefficient(k int) float64 {
	if k < len(g.config.Coefficients) {
		return g.config.Coefficients[k]
	}
	if k%2 == 1 {
		return -0.5
	}
	return 1
}

// Generate draws one batch with responses.
func (g *ImpulseGenerator) Generate() (cdr.Batch, error) {
	c := g.config
	if c.Observations < 1 || c.Impulses < 1 || c.HistoryLength < 1 {
		return cdr.Batch{}, fmt.Errorf("testkit: observations, impulses and history length must be positive")
	}

	offsets := make(map[string][]float64, len(c.Factors))
	for _, f := range c.Factors {
		o := make([]float64, f.Levels)
		for l := range o {
			o[l] = g.rng.NormFloat64() * c.FactorSD
		}
		offsets[f.Name] = o
	}

	b := cdr.Batch{
		Impulses:   make([][][]float64, c.HistoryLength),
		TimeDeltas: make([][]float64, c.HistoryLength),
		Y:          make([]float64, c.Observations),
	}
	for t := range b.Impulses {
		b.Impulses[t] = make([][]float64, c.Observations)
		b.TimeDeltas[t] = make([]float64, c.Observations)
	}
	if len(c.Factors) > 0 {
		b.Levels = make(map[string][]int, len(c.Factors))
		for _, f := range c.Factors {
			b.Levels[f.Name] = make([]int, c.Observations)
		}
	}

	for i := 0; i < c.Observations; i++ {
		y := c.Intercept
		// Walk back from the response: the newest impulse is closest.
		delta := 0.0
		for t := c.HistoryLength - 1; t >= 0; t-- {
			delta += g.rng.ExpFloat64()
			b.TimeDeltas[t][i] = delta
			row := make([]float64, c.Impulses)
			for k := range row {
				row[k] = g.rng.NormFloat64()
				y += g.coefficient(k) * row[k] * math.Exp(-c.DecayRate*delta)
			}
			b.Impulses[t][i] = row
		}
		for _, f := range c.Factors {
			level := g.rng.IntN(f.Levels)
			b.Levels[f.Name][i] = level
			y += offsets[f.Name][level]
		}
		b.Y[i] = y + g.rng.NormFloat64()*c.NoiseSD
	}
	return b, nil
}

// Fixture generates a batch together with the data summary a model is
// built from.
func (g *ImpulseGenerator) Fixture() (cdr.Batch, cdr.DataSummary, error) {
	b, err := g.Generate()
	if err != nil {
		return cdr.Batch{}, cdr.DataSummary{}, err
	}
	summary, err := cdr.Summarize(g.Names(), "y", b.Y, g.config.HistoryLength, g.config.Factors)
	if err != nil {
		return cdr.Batch{}, cdr.DataSummary{}, err
	}
	return b, summary, nil
}
