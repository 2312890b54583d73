package output

import (
	"math"
	"sort"

	"gocdr/internal/dist"
)

// supportHalfWidth is the half-width of the density grid in standardized
// units.
const supportHalfWidth = 4.0

// Diagnostics are the error-distribution arrays handed to plotting and
// reporting collaborators. Each "Summary" field is built from posterior-mean
// parameters; the others from the parameters realized in the query.
type Diagnostics struct {
	State        string    `json:"state"`
	Standardized bool      `json:"standardized"`
	Values       Values    `json:"values"`
	SummaryValue Values    `json:"summary_values"`
	Support      []float64 `json:"support"`
	PDF          []float64 `json:"pdf"`
	PDFSummary   []float64 `json:"pdf_summary"`
	// LowerBound and UpperBound are the 2.5% and 97.5% summary quantiles.
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
	// Fractions are the empirical-quantile probabilities (i+1)/(n+1) of the
	// sorted residuals.
	Fractions                   []float64 `json:"fractions"`
	EmpiricalQuantiles          []float64 `json:"empirical_quantiles"`
	TheoreticalQuantiles        []float64 `json:"theoretical_quantiles"`
	TheoreticalQuantilesSummary []float64 `json:"theoretical_quantiles_summary"`
	// CDF values are aligned with the residuals as given.
	CDF        []float64 `json:"cdf"`
	CDFSummary []float64 `json:"cdf_summary"`
}

// Support returns nSupport evenly spaced points covering the error
// distribution in the requested units.
func (m *Model) Support(nSupport int, standardized bool) []float64 {
	half := supportHalfWidth
	if !standardized {
		half *= m.cfg.TrainSD
	}
	if nSupport < 2 {
		return []float64{0}
	}
	out := make([]float64, nSupport)
	step := 2 * half / float64(nSupport-1)
	for i := range out {
		out[i] = -half + float64(i)*step
	}
	return out
}

// Diagnose evaluates both error-distribution variants over the support grid,
// at the empirical-quantile fractions of residuals and at each residual.
// residuals must already be in the requested units.
func (m *Model) Diagnose(v, summary Values, residuals []float64, standardized bool, nSupport int) Diagnostics {
	errDist := m.ErrorDist(v, standardized)
	errSummary := m.ErrorDist(summary, standardized)

	d := Diagnostics{
		State:        m.state.String(),
		Standardized: standardized,
		Values:       v,
		SummaryValue: summary,
		Support:      m.Support(nSupport, standardized),
		LowerBound:   errSummary.Quantile(0.025),
		UpperBound:   errSummary.Quantile(0.975),
	}
	d.PDF = evalAll(errDist.Prob, d.Support)
	d.PDFSummary = evalAll(errSummary.Prob, d.Support)

	n := len(residuals)
	d.Fractions = make([]float64, n)
	for i := range d.Fractions {
		d.Fractions[i] = float64(i+1) / float64(n+1)
	}
	d.EmpiricalQuantiles = append([]float64(nil), residuals...)
	sort.Float64s(d.EmpiricalQuantiles)
	d.TheoreticalQuantiles = evalAll(errDist.Quantile, d.Fractions)
	d.TheoreticalQuantilesSummary = evalAll(errSummary.Quantile, d.Fractions)
	d.CDF = evalAll(errDist.CDF, residuals)
	d.CDFSummary = evalAll(errSummary.CDF, residuals)
	return d
}

func evalAll(f func(float64) float64, xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = f(x)
	}
	return out
}

// ExpectedCount is the expected number of n errors falling in [lo, hi) under
// d, used to overlay a histogram of residuals.
func ExpectedCount(d dist.Distribution, lo, hi float64, n int) float64 {
	if hi <= lo {
		return 0
	}
	return math.Max(0, d.CDF(hi)-d.CDF(lo)) * float64(n)
}
