// Package objective assembles the training loss from the likelihood, weight
// penalties and KL terms, and keeps the running statistics used to filter
// outlying losses.
package objective

import (
	"fmt"
	"math"
	"sync"

	"gocdr/domain/core"
)

// FilterState is the persisted part of a LossFilter.
type FilterState struct {
	EMA   float64 `json:"loss_ema"`
	SDEMA float64 `json:"loss_sd_ema"`
	Steps int64   `json:"steps"`
}

// LossFilter drops per-example losses above ema + nSDs*sd_ema once the EMAs
// have warmed up. Non-finite losses are always dropped while it is enabled.
type LossFilter struct {
	mu    sync.Mutex
	decay float64
	nSDs  float64
	state FilterState
}

// NewLossFilter returns a filter; nSDs == 0 disables it.
func NewLossFilter(decay, nSDs float64) (*LossFilter, error) {
	if decay < 0 || decay >= 1 {
		return nil, fmt.Errorf("%w: ema_decay must be in [0, 1), got %v", core.ErrConfiguration, decay)
	}
	if nSDs < 0 {
		return nil, fmt.Errorf("%w: loss_filter_n_sds must be non-negative, got %v", core.ErrConfiguration, nSDs)
	}
	return &LossFilter{decay: decay, nSDs: nSDs}, nil
}

// Enabled reports whether filtering is configured at all.
func (f *LossFilter) Enabled() bool {
	return f.nSDs > 0 && f.decay > 0
}

// WarmUp is the number of observed steps before filtering starts, 2/(1-decay).
func (f *LossFilter) WarmUp() int64 {
	return int64(2 / (1 - f.decay))
}

// State returns a copy of the running statistics.
func (f *LossFilter) State() FilterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Restore replaces the running statistics.
func (f *LossFilter) Restore(s FilterState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

// Cutoff is the current threshold ema + nSDs*sd_ema.
func (f *LossFilter) Cutoff() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cutoff()
}

func (f *LossFilter) cutoff() float64 {
	return f.state.EMA + f.nSDs*f.state.SDEMA
}

// Mask returns 1 for each retained loss and 0 for each dropped one, with the
// number dropped. Losses at or below the cutoff are retained.
func (f *LossFilter) Mask(losses []float64) ([]float64, int) {
	mask := make([]float64, len(losses))
	if !f.Enabled() {
		for i := range mask {
			mask[i] = 1
		}
		return mask, 0
	}

	f.mu.Lock()
	active := f.state.Steps > f.WarmUp()
	cutoff := f.cutoff()
	f.mu.Unlock()

	var dropped int
	for i, l := range losses {
		if !finite(l) || (active && l > cutoff) {
			dropped++
			continue
		}
		mask[i] = 1
	}
	return mask, dropped
}

// Observe advances the EMAs with the finite members of an unfiltered batch
// of losses: ema = b*ema + (1-b)*mean and sd_ema = b*sd_ema + (1-b)*sd, where
// sd is the root mean squared deviation from the previous ema.
func (f *LossFilter) Observe(losses []float64) {
	if !f.Enabled() {
		return
	}
	var sum float64
	var n int
	for _, l := range losses {
		if finite(l) {
			sum += l
			n++
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Steps++
	if n == 0 {
		return
	}
	mean := sum / float64(n)
	var ss float64
	for _, l := range losses {
		if finite(l) {
			d := l - f.state.EMA
			ss += d * d
		}
	}
	sd := math.Sqrt(ss / float64(n))
	b := f.decay
	f.state.EMA = b*f.state.EMA + (1-b)*mean
	f.state.SDEMA = b*f.state.SDEMA + (1-b)*sd
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
