package objective

import (
	"sort"
	"sync"
)

// EMAState is one tracked moving average.
type EMAState struct {
	Value []float64 `json:"value"`
	Steps int64     `json:"steps"`
}

// Trackers keeps named exponential moving averages of vectors, such as the
// sampled-minus-mean deltas of the output parameters and the mean final
// recurrent states. Updates happen once per training step.
type Trackers struct {
	mu    sync.Mutex
	decay float64
	emas  map[string]*EMAState
}

// NewTrackers returns an empty set with the given decay.
func NewTrackers(decay float64) *Trackers {
	return &Trackers{decay: decay, emas: make(map[string]*EMAState)}
}

// Update folds x into the named average. The first update of a name, or one
// whose length changed, starts from zero.
func (t *Trackers) Update(name string, x []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.emas[name]
	if !ok || len(e.Value) != len(x) {
		e = &EMAState{Value: make([]float64, len(x))}
		t.emas[name] = e
	}
	for i, v := range x {
		e.Value[i] = t.decay*e.Value[i] + (1-t.decay)*v
	}
	e.Steps++
}

// Get returns a copy of the named average.
func (t *Trackers) Get(name string) ([]float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.emas[name]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), e.Value...), true
}

// Names lists tracked names in sorted order.
func (t *Trackers) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.emas))
	for n := range t.emas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies every average.
func (t *Trackers) Snapshot() map[string]EMAState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]EMAState, len(t.emas))
	for n, e := range t.emas {
		out[n] = EMAState{Value: append([]float64(nil), e.Value...), Steps: e.Steps}
	}
	return out
}

// Restore replaces every average with s.
func (t *Trackers) Restore(s map[string]EMAState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emas = make(map[string]*EMAState, len(s))
	for n, e := range s {
		t.emas[n] = &EMAState{Value: append([]float64(nil), e.Value...), Steps: e.Steps}
	}
}
