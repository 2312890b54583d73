package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"gocdr/domain/core"
	"gocdr/internal"
	"gocdr/internal/cdr"
	"gocdr/models"
	"gocdr/ports"

	"golang.org/x/sync/errgroup"
)

// FitService drives minibatch training of a CDR model and records each fit
// in the run registry.
type FitService struct {
	runs    ports.RunRepository
	rngPort ports.RNGPort
	logger  *internal.Logger
}

// FitRequest defines one training run
type FitRequest struct {
	Model *cdr.Model
	Data  cdr.Batch
	// Epochs is the number of passes over Data.
	Epochs int
	// LogEvery logs and records progress every LogEvery epochs.
	LogEvery int
	// ModelDir, when set, receives the fitted model.
	ModelDir string
}

// EpochSummary is the mean train-step loss of one pass over the data
type EpochSummary struct {
	Epoch          int     `json:"epoch"`
	Step           int64   `json:"step"`
	Loss           float64 `json:"loss"`
	LikelihoodLoss float64 `json:"likelihood_loss"`
	NDropped       int     `json:"n_dropped"`
}

// FitResult contains the complete output of a fit
type FitResult struct {
	RunID       core.RunID     `json:"run_id"`
	ModelID     core.ModelID   `json:"model_id"`
	Fingerprint core.Hash      `json:"fingerprint"`
	Step        int64          `json:"step"`
	Epochs      []EpochSummary `json:"epochs"`
	RuntimeMs   int64          `json:"runtime_ms"`
}

// NewFitService creates a fit service. runs may be nil, in which case fits
// are not recorded.
func NewFitService(runs ports.RunRepository, rngPort ports.RNGPort, logger *internal.Logger) *FitService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &FitService{
		runs:    runs,
		rngPort: rngPort,
		logger:  logger.With("component", "fit"),
	}
}

// Fit trains req.Model for req.Epochs passes over shuffled minibatches. A
// cancelled context stops the fit between steps and marks the run cancelled;
// any other failure marks it errored.
func (s *FitService) Fit(ctx context.Context, req FitRequest) (*FitResult, error) {
	if req.Model == nil {
		return nil, fmt.Errorf("%w: fit requires a model", core.ErrConfiguration)
	}
	if req.Epochs < 1 {
		return nil, fmt.Errorf("%w: epochs must be positive, got %d", core.ErrConfiguration, req.Epochs)
	}
	if err := req.Data.Validate(req.Model.Data().NImpulses(), true); err != nil {
		return nil, err
	}
	logEvery := req.LogEvery
	if logEvery < 1 {
		logEvery = 1
	}

	startTime := time.Now()
	m := req.Model
	hp := m.Hyperparams()
	packed := hp.Pack()
	fingerprint, err := core.Fingerprint(packed)
	if err != nil {
		return nil, err
	}

	runID := core.NewRunID()
	result := &FitResult{RunID: runID, ModelID: m.ID(), Fingerprint: fingerprint}
	log := s.logger.With("run", runID.String())

	if s.runs != nil {
		run := models.NewTrainingRun(runID.UUID(), m.ID().String(), req.Epochs, packed)
		run.ModelDir = req.ModelDir
		run.Step = m.Step()
		if err := s.runs.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
		if err := s.runs.UpdateRunState(ctx, runID.UUID(), models.RunStateRunning); err != nil {
			return nil, fmt.Errorf("start run: %w", err)
		}
	}

	rng, err := s.rngPort.SeededStream(ctx, "minibatch", hp.Seed)
	if err != nil {
		return nil, s.fail(runID, log, err)
	}

	log.Info("fitting model %s (settings %s) for %d epochs on %d observations",
		m.ID(), fingerprint.Short(), req.Epochs, req.Data.Len())

	n := req.Data.Len()
	size := hp.MinibatchSize
	for epoch := 1; epoch <= req.Epochs; epoch++ {
		perm := rng.Perm(n)
		summary := EpochSummary{Epoch: epoch}
		var batches int
		for lo := 0; lo < n; lo += size {
			if err := ctx.Err(); err != nil {
				return nil, s.fail(runID, log, err)
			}
			hi := min(lo+size, n)
			res, err := m.TrainStep(req.Data.Slice(perm[lo:hi]))
			if err != nil {
				return nil, s.fail(runID, log, fmt.Errorf("epoch %d: %w", epoch, err))
			}
			summary.Step = res.Step
			summary.Loss += res.Loss
			summary.LikelihoodLoss += res.LikelihoodLoss
			summary.NDropped += res.NDropped
			batches++
		}
		summary.Loss /= float64(batches)
		summary.LikelihoodLoss /= float64(batches)
		result.Epochs = append(result.Epochs, summary)

		if math.IsNaN(summary.Loss) || math.IsInf(summary.Loss, 0) {
			return nil, s.fail(runID, log, fmt.Errorf("epoch %d: non-finite loss %v", epoch, summary.Loss))
		}
		if epoch%logEvery == 0 || epoch == req.Epochs {
			log.Info("epoch %d/%d step %d loss %.4f (likelihood %.4f, dropped %d)",
				epoch, req.Epochs, summary.Step, summary.Loss, summary.LikelihoodLoss, summary.NDropped)
			if s.runs != nil {
				if err := s.runs.UpdateRunProgress(ctx, runID.UUID(), summary.Step, summary.Loss); err != nil {
					log.Warn("failed to record progress: %v", err)
				}
			}
		}
	}

	if req.ModelDir != "" {
		if err := m.Save(req.ModelDir); err != nil {
			return nil, s.fail(runID, log, err)
		}
	}
	if s.runs != nil {
		if err := s.runs.UpdateRunState(ctx, runID.UUID(), models.RunStateComplete); err != nil {
			log.Warn("failed to complete run: %v", err)
		}
	}

	result.Step = m.Step()
	result.RuntimeMs = time.Since(startTime).Milliseconds()
	log.Info("fit complete at step %d in %dms", result.Step, result.RuntimeMs)
	return result, nil
}

// fail records err on the run and returns it. Context errors mark the run
// cancelled; anything else marks it errored. The registry write uses a
// fresh context so a cancelled fit is still recorded.
func (s *FitService) fail(runID core.RunID, log *internal.Logger, err error) error {
	cancelled := stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
	if cancelled {
		log.Warn("fit cancelled: %v", err)
	} else {
		log.Error("fit failed: %v", err)
	}
	if s.runs == nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var rerr error
	if cancelled {
		rerr = s.runs.UpdateRunState(ctx, runID.UUID(), models.RunStateCancelled)
	} else {
		rerr = s.runs.SetRunError(ctx, runID.UUID(), err.Error())
	}
	if rerr != nil {
		log.Warn("failed to record run outcome: %v", rerr)
	}
	return err
}

// Evaluation is the MAP-mode objective over a dataset
type Evaluation struct {
	N              int     `json:"n"`
	Loss           float64 `json:"loss"`
	LikelihoodLoss float64 `json:"likelihood_loss"`
	LogLik         float64 `json:"log_lik"`
}

// Evaluate scores data in chunks of chunkSize evaluated concurrently and
// combines them into the whole-batch objective. Chunk likelihood losses are
// summed when the model scales its loss with the data and averaged by
// observation count otherwise; the regularization and KL terms do not depend
// on the batch and are counted once. LogLik is the total raw log-likelihood.
func (s *FitService) Evaluate(ctx context.Context, m *cdr.Model, data cdr.Batch, chunkSize int) (*Evaluation, error) {
	n := data.Len()
	if n == 0 {
		return nil, core.ErrEmptyBatch
	}
	if chunkSize < 1 {
		chunkSize = n
	}

	type part struct {
		n      int
		report cdr.LossReport
		loglik float64
	}
	parts := make([]part, (n+chunkSize-1)/chunkSize)

	g, gctx := errgroup.WithContext(ctx)
	for c := range parts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lo := c * chunkSize
			hi := min(lo+chunkSize, n)
			idx := make([]int, hi-lo)
			for i := range idx {
				idx[i] = lo + i
			}
			chunk := data.Slice(idx)
			rep, err := m.Loss(chunk)
			if err != nil {
				return err
			}
			ll, err := m.LogLik(chunk, false)
			if err != nil {
				return err
			}
			p := part{n: len(idx), report: rep}
			for _, v := range ll {
				p.loglik += v
			}
			parts[c] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ev := &Evaluation{N: n}
	scaled := m.Hyperparams().ScaleLossWithData
	for _, p := range parts {
		w := float64(p.n) / float64(n)
		if scaled {
			w = 1
		}
		ev.LikelihoodLoss += w * p.report.LikelihoodLoss
		ev.LogLik += p.loglik
	}
	ev.Loss = ev.LikelihoodLoss + parts[0].report.RegLoss
	s.logger.Debug("evaluated %d observations in %d chunks: loss %.4f", n, len(parts), ev.Loss)
	return ev, nil
}
