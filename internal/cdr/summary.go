package cdr

import (
	"gocdr/internal/bayes"
	"gocdr/internal/output"
	"gocdr/internal/profiling"
)

// ParameterRow is one element of one latent parameter in the reporting
// table.
type ParameterRow struct {
	Name   string  `json:"name"`
	Effect string  `json:"effect"`
	Row    int     `json:"row"`
	Col    int     `json:"col"`
	Mean   float64 `json:"mean"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
}

// ParameterSummary lists the posterior mean and the 2.5% and 97.5% posterior
// quantiles of every element of every latent parameter.
func (m *Model) ParameterSummary() []ParameterRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []ParameterRow
	for _, p := range m.suite.Parameters() {
		rows = append(rows, summarize(p)...)
	}
	return rows
}

// TrackerRow is one element of one moving average kept across train steps.
type TrackerRow struct {
	Name  string  `json:"name"`
	Index int     `json:"index"`
	Value float64 `json:"value"`
	Steps int64   `json:"steps"`
}

// TrackerSummary lists the tracked output-parameter deltas and recurrent
// state means, sorted by name. It is empty before the first train step.
func (m *Model) TrackerSummary() []TrackerRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.trackers.Snapshot()
	var rows []TrackerRow
	for _, name := range m.trackers.Names() {
		e := snap[name]
		for i, v := range e.Value {
			rows = append(rows, TrackerRow{Name: name, Index: i, Value: v, Steps: e.Steps})
		}
	}
	return rows
}

func summarize(p *bayes.LatentParameter) []ParameterRow {
	mean := p.Mean()
	lo, hi := p.Interval(0.95)
	effect := "fixed"
	if p.Effect != nil {
		effect = p.Effect.String()
	}
	rows := make([]ParameterRow, 0, mean.Len())
	for i := 0; i < mean.Rows; i++ {
		for j := 0; j < mean.Cols; j++ {
			rows = append(rows, ParameterRow{
				Name: p.Name, Effect: effect, Row: i, Col: j,
				Mean: mean.At(i, j), Lower: lo.At(i, j), Upper: hi.At(i, j),
			})
		}
	}
	return rows
}

// ErrorReport pairs the error-distribution diagnostics with a descriptive
// profile of the residuals.
type ErrorReport struct {
	Diagnostics output.Diagnostics `json:"diagnostics"`
	// Residuals is empty when the residuals could not be profiled.
	Residuals *profiling.Profile `json:"residuals,omitempty"`
}

// ErrorDiagnostics evaluates the MAP-mode error distribution against the
// residuals y - prediction, in raw units unless standardized is set.
// Profiling failures are logged and leave Residuals empty.
func (m *Model) ErrorDiagnostics(b Batch, standardized bool) (ErrorReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, p, ev, err := m.evaluate(b, true)
	if err != nil {
		return ErrorReport{}, err
	}
	v, s := ev.Params.Values(), ev.Summary.Values()
	preds := m.out.Predict(p.out.Value().Data, v, standardized, bayes.Evaluation())
	residuals := make([]float64, len(preds))
	for i, y := range b.Y {
		if standardized {
			y = m.out.Standardize(y)
		}
		residuals[i] = y - preds[i]
	}

	rep := ErrorReport{Diagnostics: m.out.Diagnose(v, s, residuals, standardized, m.hp.NSupport)}
	prof, err := profiling.Analyze(residuals)
	if err != nil {
		m.logger.Warn("residual profile unavailable: %v", err)
	} else {
		rep.Residuals = &prof
	}
	return rep, nil
}
