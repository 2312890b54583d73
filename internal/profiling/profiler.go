package profiling

import (
	"sort"

	"gocdr/internal"
)

// Profiler profiles named samples, logging and skipping any that fail.
type Profiler struct {
	logger *internal.Logger
}

// NewProfiler returns a profiler that reports through logger, or the
// default logger when nil.
func NewProfiler(logger *internal.Logger) *Profiler {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Profiler{logger: logger}
}

// ProfileSet analyzes every sample. Empty or invalid samples are left out of
// the result.
func (p *Profiler) ProfileSet(samples map[string][]float64) map[string]Profile {
	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]Profile, len(samples))
	for _, name := range names {
		prof, err := Analyze(samples[name])
		if err != nil {
			p.logger.Warn("profiling %s: %v", name, err)
			continue
		}
		out[name] = prof
	}
	return out
}
