// Package cdr is the training and inference driver of a variational
// continuous-time deconvolutional regression: it owns every latent parameter,
// runs the recurrent impulse-response backbone and exposes train steps and
// MAP-mode queries.
package cdr

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"gocdr/domain/core"
	"gocdr/internal"
	"gocdr/internal/bayes"
	"gocdr/internal/config"
	"gocdr/internal/graph"
	"gocdr/internal/layers"
	"gocdr/internal/objective"
	"gocdr/internal/optim"
	"gocdr/internal/output"
)

// Model is one fitted or fitting CDR model. Train steps take the write lock;
// queries take the read lock.
type Model struct {
	mu     sync.RWMutex
	id     core.ModelID
	hp     config.Hyperparams
	data   DataSummary
	logger *internal.Logger

	suite *bayes.Suite
	ranef []string

	intercept   *bayes.Term
	coefficient *bayes.Term
	inputProj   layers.Stack
	rnns        []*layers.Recurrent
	rnnH        []*bayes.Term
	rnnC        []*bayes.Term
	hBias       *bayes.Term
	irfW        *bayes.Term
	irfB        *bayes.Term
	irf         layers.Stack
	irfAct      layers.Activation
	out         *output.Model

	assembler *objective.Assembler
	optimizer optim.Optimizer
	trackers  *objective.Trackers
	rng       *rand.Rand
	step      int64
}

// New builds every parameter, layer and training component. Configuration
// errors, including a missing optimizer or an unknown grouping factor,
// surface here.
func New(hp config.Hyperparams, data DataSummary, logger *internal.Logger) (*Model, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if data.NImpulses() == 0 {
		return nil, fmt.Errorf("%w: at least one impulse is required", core.ErrConfiguration)
	}
	sc, err := hp.SuiteConfig()
	if err != nil {
		return nil, err
	}
	registry, err := bayes.NewGroupingRegistry(data.GroupingFactors)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(hp.Seed, hp.Seed^0x9e3779b97f4a7c15))
	suite, err := bayes.NewSuite(sc, registry, rng)
	if err != nil {
		return nil, err
	}

	m := &Model{
		id:     core.NewModelID(),
		hp:     hp,
		data:   data,
		logger: logger.With("component", "cdr"),
		suite:  suite,
		ranef:  registry.Names(),
		rng:    rng,
	}
	if err := m.build(); err != nil {
		return nil, err
	}
	if err := m.buildTraining(); err != nil {
		return nil, err
	}
	m.logger.Debug("built %d latent parameters (%s, random effects %v)", len(suite.Parameters()), m.out.State(), m.ranef)
	return m, nil
}

func (m *Model) build() error {
	hp, s := m.hp, m.suite
	k := m.data.NImpulses()
	var err error

	interceptInit := 0.0
	if !hp.StandardizeResponse {
		interceptInit = m.data.TrainMean
	}
	if m.intercept, err = s.Intercept(interceptInit, hp.InterceptPriorSD, m.ranef...); err != nil {
		return err
	}
	// One coefficient per impulse plus the rate.
	if m.coefficient, err = s.Coefficient(k+1, hp.CoefficientPriorSD, m.ranef...); err != nil {
		return err
	}

	// Each step's input is the impulse vector and its time delta.
	width := k + 1
	var proj []layers.DenseConfig
	for l := 0; l < hp.InputProjectionLayers; l++ {
		proj = append(proj, layers.DenseConfig{
			Name:        fmt.Sprintf("input_projection_l%d", l+1),
			Units:       hp.InputProjectionUnits,
			Activation:  hp.InputProjectionActivation,
			UseBias:     true,
			DropoutRate: hp.InputDropoutRate,
		})
	}
	if m.inputProj, err = layers.NewStack(s, width, proj); err != nil {
		return err
	}
	width = m.inputProj.Out(width)

	for l := 0; l < hp.RNNLayers; l++ {
		rnn, err := layers.NewRecurrent(s, width, layers.RecurrentConfig{
			Name:                fmt.Sprintf("rnn_l%d", l+1),
			Units:               hp.RNNUnits,
			TimeProjectionDepth: hp.RNNTimeProjectionDepth,
			Activation:          hp.RNNActivation,
			RecurrentActivation: hp.RecurrentActivation,
			HDropout:            hp.RNNHDropoutRate,
			BottomUpDropout:     hp.RNNBottomUpDropoutRate,
		})
		if err != nil {
			return err
		}
		h, err := s.RNNHidden(l, hp.RNNUnits, m.ranef...)
		if err != nil {
			return err
		}
		c, err := s.RNNCell(l, hp.RNNUnits, m.ranef...)
		if err != nil {
			return err
		}
		m.rnns = append(m.rnns, rnn)
		m.rnnH = append(m.rnnH, h)
		m.rnnC = append(m.rnnC, c)
		width = hp.RNNUnits
	}
	if m.hBias, err = s.HiddenBias(width, m.ranef...); err != nil {
		return err
	}

	if m.irfAct, err = layers.ParseActivation(hp.IRFActivation); err != nil {
		return err
	}
	if m.irfW, err = s.IRFWeightBias(hp.IRFUnits, m.ranef...); err != nil {
		return err
	}
	if m.irfB, err = s.IRFInputBias(hp.IRFUnits, m.ranef...); err != nil {
		return err
	}
	var irf []layers.DenseConfig
	for l := 0; l < hp.IRFLayers; l++ {
		irf = append(irf, layers.DenseConfig{
			Name:        fmt.Sprintf("irf_l%d", l+2),
			Units:       hp.IRFUnits,
			Activation:  hp.IRFActivation,
			UseBias:     true,
			DropoutRate: hp.IRFDropoutRate,
		})
	}
	irf = append(irf, layers.DenseConfig{Name: "irf_out", Units: k + 1})
	if m.irf, err = layers.NewStack(s, width+hp.IRFUnits, irf); err != nil {
		return err
	}

	ysdInit := hp.YSDInit
	if ysdInit == 0 {
		ysdInit = 1
		if !hp.StandardizeResponse {
			ysdInit = m.data.TrainSD
		}
	}
	m.out, err = output.New(s, output.Config{
		Asymmetric:         hp.AsymmetricErrorDist,
		Standardize:        hp.StandardizeResponse,
		YSDTrainable:       hp.YSDTrainable,
		YSDInit:            ysdInit,
		YSDPriorSD:         hp.YSDPriorSD,
		SkewnessPriorSD:    hp.YSkewnessPriorSD,
		TailweightPriorSD:  hp.YTailweightPriorSD,
		TailweightPriorLoc: hp.YTailweightPriorLoc,
		TrainMean:          m.data.TrainMean,
		TrainSD:            m.data.TrainSD,
	}, m.logger)
	return err
}

func (m *Model) buildTraining() error {
	hp := m.hp
	filter, err := objective.NewLossFilter(hp.EMADecay, hp.LossFilterNSDs)
	if err != nil {
		return err
	}
	reg, err := objective.ParseRegularizer(hp.Regularizer, hp.RegularizerScale)
	if err != nil {
		return err
	}
	scale := 1.0
	if m.data.NTrain > 0 {
		scale = float64(m.data.NTrain) / float64(hp.MinibatchSize)
	}
	if m.assembler, err = objective.NewAssembler(objective.Config{
		OptimizerName:     hp.OptimizerName,
		ScaleLossWithData: hp.ScaleLossWithData,
		MinibatchScale:    scale,
		Regularizer:       reg,
	}, filter); err != nil {
		return err
	}
	if m.optimizer, err = optim.New(hp.OptimizerName, hp.LearningRate); err != nil {
		return err
	}
	m.trackers = objective.NewTrackers(hp.EMADecay)
	return nil
}

// ID identifies this model instance.
func (m *Model) ID() core.ModelID { return m.id }

// Hyperparams returns the settings the model was built with.
func (m *Model) Hyperparams() config.Hyperparams { return m.hp }

// Data returns the training-data summary.
func (m *Model) Data() DataSummary { return m.data }

// Output returns the output model.
func (m *Model) Output() *output.Model { return m.out }

// Step is the number of train steps taken.
func (m *Model) Step() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.step
}

// Parameters lists every latent parameter in creation order.
func (m *Model) Parameters() []*bayes.LatentParameter { return m.suite.Parameters() }

func (m *Model) variables() []*graph.Variable {
	var vars []*graph.Variable
	for _, p := range m.suite.Parameters() {
		vars = append(vars, p.Variables()...)
	}
	return vars
}

// weights are the regularizable parameters; biases and initial states are
// excluded.
func (m *Model) weights() []*bayes.LatentParameter {
	w := m.inputProj.Weights()
	for _, r := range m.rnns {
		w = append(w, r.Weights()...)
	}
	return append(w, m.irf.Weights()...)
}

// pass is one forward evaluation of the backbone.
type pass struct {
	out *graph.Node
	kl  bayes.KLPenalties
	// hMeans[l] and cMeans[l] are the batch means of layer l's final hidden
	// and cell states.
	hMeans [][]float64
	cMeans [][]float64
}

// forward computes the network output in modelled units:
//
//	out = intercept + Σ_t Σ_k x_tk · r_tk · coef_k
//
// where x_t is the impulse vector at step t extended with the rate (1) and
// r_t is the impulse response produced by the IRF stack from the recurrent
// state and the time delta.
func (m *Model) forward(ctx bayes.ExecContext, tp *graph.Tape, b Batch) pass {
	var p pass
	n, k := b.Len(), m.data.NImpulses()

	xs := make([]*graph.Node, b.Steps())
	inputs := make([]*graph.Node, b.Steps())
	deltas := make([]*graph.Node, b.Steps())
	for t := range b.Impulses {
		x := graph.NewTensor(n, k+1)
		in := graph.NewTensor(n, k+1)
		for i, row := range b.Impulses[t] {
			copy(x.Row(i), row)
			x.Set(i, k, 1)
			copy(in.Row(i), row)
			in.Set(i, k, b.TimeDeltas[t][i])
		}
		xs[t] = tp.Const(x)
		inputs[t] = tp.Const(in)
		deltas[t] = tp.Const(graph.Column(b.TimeDeltas[t]))
	}

	proj, kl := m.inputProj.Realize(ctx, tp)
	p.kl = kl
	hs := make([]*graph.Node, len(inputs))
	for t, in := range inputs {
		hs[t] = proj.Apply(in)
	}

	for l, rnn := range m.rnns {
		h0, _, hkl := m.rnnH[l].Realize(ctx, tp, b.Levels)
		c0, _, ckl := m.rnnC[l].Realize(ctx, tp, b.Levels)
		p.kl = p.kl.Append(hkl...).Append(ckl...)
		var (
			rkl    bayes.KLPenalties
			cFinal *graph.Node
		)
		hs, cFinal, rkl = rnn.Forward(ctx, tp, hs, deltas, h0, c0)
		p.kl = p.kl.Append(rkl...)
		p.hMeans = append(p.hMeans, columnMeans(hs[len(hs)-1].Value()))
		p.cMeans = append(p.cMeans, columnMeans(cFinal.Value()))
	}

	hBias, _, bkl := m.hBias.Realize(ctx, tp, b.Levels)
	irfW, _, wkl := m.irfW.Realize(ctx, tp, b.Levels)
	irfB, _, ikl := m.irfB.Realize(ctx, tp, b.Levels)
	coef, _, ckl := m.coefficient.Realize(ctx, tp, b.Levels)
	intercept, _, ikl2 := m.intercept.Realize(ctx, tp, b.Levels)
	irf, fkl := m.irf.Realize(ctx, tp)
	p.kl = p.kl.Append(bkl...).Append(wkl...).Append(ikl...).Append(ckl...).Append(ikl2...).Append(fkl...)

	var acc *graph.Node
	for t := range xs {
		h := graph.Add(hs[t], hBias)
		e := m.irfAct.Apply(graph.Add(graph.Mul(deltas[t], irfW), irfB))
		r := irf.Apply(graph.ConcatCols(h, e))
		contrib := graph.RowSums(graph.Mul(graph.Mul(xs[t], r), coef))
		if acc == nil {
			acc = contrib
		} else {
			acc = graph.Add(acc, contrib)
		}
	}
	p.out = graph.Add(acc, intercept)
	return p
}

func columnMeans(t graph.Tensor) []float64 {
	out := make([]float64, t.Cols)
	for i := 0; i < t.Rows; i++ {
		for j, v := range t.Row(i) {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(t.Rows)
	}
	return out
}
