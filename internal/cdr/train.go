package cdr

import (
	"fmt"

	"gocdr/internal/bayes"
	"gocdr/internal/graph"
	"gocdr/internal/objective"
	"gocdr/internal/output"
)

// TrainResult reports one optimizer step.
type TrainResult struct {
	Step           int64   `json:"step"`
	Loss           float64 `json:"loss"`
	LikelihoodLoss float64 `json:"likelihood_loss"`
	RegLoss        float64 `json:"reg_loss"`
	KLLoss         float64 `json:"kl_loss"`
	NDropped       int     `json:"n_dropped"`
}

// TrainStep samples every parameter, takes one optimizer step on the batch
// and updates the loss filter and the moving-average trackers.
func (m *Model) TrainStep(b Batch) (TrainResult, error) {
	if err := b.Validate(m.data.NImpulses(), true); err != nil {
		return TrainResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := bayes.NewExecContext(bayes.Sample, true, m.rng)
	tp := graph.NewTape()
	p := m.forward(ctx, tp, b)
	ev, err := m.out.Evaluate(ctx, tp, p.out, b.Y)
	if err != nil {
		return TrainResult{}, err
	}
	obj := m.assembler.Assemble(tp, objective.Inputs{
		LogLik:  ev.LogLikRaw,
		KL:      p.kl.Append(ev.KL...),
		Weights: m.weights(),
		Filter:  true,
	})

	vars := m.variables()
	for _, v := range vars {
		v.ZeroGrad()
	}
	if err := tp.Backward(obj.Loss); err != nil {
		return TrainResult{}, fmt.Errorf("backward pass: %w", err)
	}
	m.optimizer.Step(vars)
	m.assembler.Filter().Observe(obj.Losses)
	m.track(ev, p)
	m.step++

	res := TrainResult{
		Step:           m.step,
		Loss:           obj.Loss.Scalar(),
		LikelihoodLoss: obj.LikelihoodLoss.Scalar(),
		RegLoss:        obj.RegLoss.Scalar(),
		KLLoss:         obj.KLLoss.Scalar(),
		NDropped:       obj.NDropped,
	}
	if res.NDropped > 0 {
		m.logger.Debug("step %d dropped %d of %d examples", m.step, res.NDropped, b.Len())
	}
	return res, nil
}

// track folds this step's sampled-minus-mean output parameter deltas and
// mean final hidden and cell states into the trackers.
func (m *Model) track(ev output.Evaluation, p pass) {
	v, s := ev.Params.Values(), ev.Summary.Values()
	m.trackers.Update("y_sd_delta", []float64{v.Scale - s.Scale})
	if m.out.State().Asymmetric {
		m.trackers.Update("y_skewness_delta", []float64{v.Skewness - s.Skewness})
		m.trackers.Update("y_tailweight_delta", []float64{v.Tailweight - s.Tailweight})
	}
	for l, h := range p.hMeans {
		m.trackers.Update(fmt.Sprintf("rnn_h_l%d_mean", l+1), h)
	}
	for l, c := range p.cMeans {
		m.trackers.Update(fmt.Sprintf("rnn_c_l%d_mean", l+1), c)
	}
}

// Trackers returns the moving averages kept across train steps.
func (m *Model) Trackers() *objective.Trackers { return m.trackers }

// LossFilterState returns the running loss statistics.
func (m *Model) LossFilterState() objective.FilterState {
	return m.assembler.Filter().State()
}

// evaluate runs a MAP-mode forward pass. y may be nil.
func (m *Model) evaluate(b Batch, needY bool) (*graph.Tape, pass, output.Evaluation, error) {
	if err := b.Validate(m.data.NImpulses(), needY); err != nil {
		return nil, pass{}, output.Evaluation{}, err
	}
	ctx := bayes.Evaluation()
	tp := graph.NewTape()
	p := m.forward(ctx, tp, b)
	if !needY {
		return tp, p, output.Evaluation{}, nil
	}
	ev, err := m.out.Evaluate(ctx, tp, p.out, b.Y)
	return tp, p, ev, err
}

// Predict returns the MAP-mode predictive means in raw units, or in
// standardized units when asked.
func (m *Model) Predict(b Batch, standardized bool) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tp, p, _, err := m.evaluate(b, false)
	if err != nil {
		return nil, err
	}
	value, _, _ := m.out.Realize(bayes.Evaluation(), tp)
	return m.out.Predict(p.out.Value().Data, value.Values(), standardized, bayes.Evaluation()), nil
}

// LogLik returns the per-observation MAP-mode log-likelihoods.
func (m *Model) LogLik(b Batch, standardized bool) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, _, ev, err := m.evaluate(b, true)
	if err != nil {
		return nil, err
	}
	ll := ev.LogLikRaw
	if standardized {
		ll = ev.LogLikStandardized
	}
	return append([]float64(nil), ll.Value().Data...), nil
}

// LossReport is the MAP-mode objective on one batch.
type LossReport struct {
	Loss           float64 `json:"loss"`
	LikelihoodLoss float64 `json:"likelihood_loss"`
	RegLoss        float64 `json:"reg_loss"`
	KLLoss         float64 `json:"kl_loss"`
}

// Loss evaluates the objective without filtering, stepping or tracking.
func (m *Model) Loss(b Batch) (LossReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tp, p, ev, err := m.evaluate(b, true)
	if err != nil {
		return LossReport{}, err
	}
	obj := m.assembler.Assemble(tp, objective.Inputs{
		LogLik:  ev.LogLikRaw,
		KL:      p.kl.Append(ev.KL...),
		Weights: m.weights(),
	})
	return LossReport{
		Loss:           obj.Loss.Scalar(),
		LikelihoodLoss: obj.LikelihoodLoss.Scalar(),
		RegLoss:        obj.RegLoss.Scalar(),
		KLLoss:         obj.KLLoss.Scalar(),
	}, nil
}
