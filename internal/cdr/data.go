package cdr

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"gocdr/domain/core"
	"gocdr/internal/bayes"
)

// DataSummary is what the model needs to know about its training data. It is
// saved with the model so that a reload rebuilds identical shapes.
type DataSummary struct {
	ImpulseNames    []string               `json:"impulse_names"`
	ResponseName    string                 `json:"response_name"`
	TrainMean       float64                `json:"train_mean"`
	TrainSD         float64                `json:"train_sd"`
	NTrain          int                    `json:"n_train"`
	HistoryLength   int                    `json:"history_length"`
	GroupingFactors []bayes.GroupingFactor `json:"grouping_factors"`
}

// NImpulses is the number of impulse streams, excluding the rate.
func (d DataSummary) NImpulses() int { return len(d.ImpulseNames) }

// Summarize computes the response moments used for standardization. The
// standard deviation is the sample one; a constant response is rejected.
func Summarize(impulses []string, response string, y []float64, history int, factors []bayes.GroupingFactor) (DataSummary, error) {
	if len(impulses) == 0 {
		return DataSummary{}, fmt.Errorf("%w: at least one impulse is required", core.ErrConfiguration)
	}
	if len(y) < 2 {
		return DataSummary{}, fmt.Errorf("%w: need at least two responses, got %d", core.ErrEmptyBatch, len(y))
	}
	mean, err := stats.Mean(y)
	if err != nil {
		return DataSummary{}, fmt.Errorf("response mean: %w", err)
	}
	sd, err := stats.StandardDeviationSample(y)
	if err != nil {
		return DataSummary{}, fmt.Errorf("response sd: %w", err)
	}
	if !(sd > 0) || math.IsNaN(mean) || math.IsInf(sd, 0) {
		return DataSummary{}, fmt.Errorf("%w: response sd must be positive and finite, got %v", core.ErrConfiguration, sd)
	}
	if history < 1 {
		return DataSummary{}, fmt.Errorf("%w: history length must be positive, got %d", core.ErrConfiguration, history)
	}
	return DataSummary{
		ImpulseNames:    append([]string(nil), impulses...),
		ResponseName:    response,
		TrainMean:       mean,
		TrainSD:         sd,
		NTrain:          len(y),
		HistoryLength:   history,
		GroupingFactors: append([]bayes.GroupingFactor(nil), factors...),
	}, nil
}

// Batch is a minibatch of N responses, each preceded by a history of T
// impulse vectors.
type Batch struct {
	// Impulses[t][i] is the K-vector of impulse values at history step t of
	// observation i, oldest step first.
	Impulses [][][]float64 `json:"impulses"`
	// TimeDeltas[t][i] is the time from step t's impulse to response i.
	TimeDeltas [][]float64 `json:"time_deltas"`
	// Levels maps a grouping factor to one level index per observation.
	// -1 marks a level unseen in training.
	Levels map[string][]int `json:"levels,omitempty"`
	// Y holds raw responses; queries that only predict may leave it empty.
	Y []float64 `json:"y,omitempty"`
}

// Len is the number of observations.
func (b Batch) Len() int {
	if len(b.Impulses) == 0 {
		return 0
	}
	return len(b.Impulses[0])
}

// Steps is the history length.
func (b Batch) Steps() int { return len(b.Impulses) }

// Validate checks every dimension against k impulses. needY requires one
// response per observation.
func (b Batch) Validate(k int, needY bool) error {
	n := b.Len()
	if b.Steps() == 0 || n == 0 {
		return core.ErrEmptyBatch
	}
	if len(b.TimeDeltas) != b.Steps() {
		return core.NewShapeError("time delta steps", b.Steps(), len(b.TimeDeltas))
	}
	for t := range b.Impulses {
		if len(b.Impulses[t]) != n {
			return core.NewShapeError(fmt.Sprintf("impulse rows at step %d", t), n, len(b.Impulses[t]))
		}
		if len(b.TimeDeltas[t]) != n {
			return core.NewShapeError(fmt.Sprintf("time delta rows at step %d", t), n, len(b.TimeDeltas[t]))
		}
		for i, row := range b.Impulses[t] {
			if len(row) != k {
				return core.NewShapeError(fmt.Sprintf("impulse width at step %d row %d", t, i), k, len(row))
			}
		}
	}
	for name, idx := range b.Levels {
		if len(idx) != n {
			return core.NewShapeError("levels of "+name, n, len(idx))
		}
	}
	if needY && len(b.Y) != n {
		return core.NewShapeError("responses", n, len(b.Y))
	}
	if !needY && len(b.Y) != 0 && len(b.Y) != n {
		return core.NewShapeError("responses", n, len(b.Y))
	}
	return nil
}

// Slice returns the observations idx as a new batch sharing no rows with b.
func (b Batch) Slice(idx []int) Batch {
	out := Batch{
		Impulses:   make([][][]float64, b.Steps()),
		TimeDeltas: make([][]float64, b.Steps()),
	}
	for t := range b.Impulses {
		out.Impulses[t] = make([][]float64, len(idx))
		out.TimeDeltas[t] = make([]float64, len(idx))
		for j, i := range idx {
			out.Impulses[t][j] = append([]float64(nil), b.Impulses[t][i]...)
			out.TimeDeltas[t][j] = b.TimeDeltas[t][i]
		}
	}
	if len(b.Levels) > 0 {
		out.Levels = make(map[string][]int, len(b.Levels))
		for name, lv := range b.Levels {
			sel := make([]int, len(idx))
			for j, i := range idx {
				sel[j] = lv[i]
			}
			out.Levels[name] = sel
		}
	}
	if len(b.Y) > 0 {
		out.Y = make([]float64, len(idx))
		for j, i := range idx {
			out.Y[j] = b.Y[i]
		}
	}
	return out
}
