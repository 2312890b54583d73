package bayes

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"gocdr/domain/core"
)

// Scale heuristics accepted wherever a prior standard deviation is configured.
const (
	HeuristicXavier = "xavier"
	HeuristicGlorot = "glorot"
	HeuristicHe     = "he"
)

// ScaleSpec is a prior standard deviation given either as a positive number
// or as the name of a fan-based initialization heuristic. It marshals to a
// bare number or string.
type ScaleSpec struct {
	Heuristic string
	Value     float64
}

// Numeric is a fixed standard deviation.
func Numeric(v float64) ScaleSpec { return ScaleSpec{Value: v} }

// Heuristic is a named fan-based standard deviation.
func Heuristic(name string) ScaleSpec { return ScaleSpec{Heuristic: strings.ToLower(name)} }

// ParseScaleSpec reads "xavier", "glorot", "he" or a positive number.
func ParseScaleSpec(s string) (ScaleSpec, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		spec := Numeric(v)
		return spec, spec.Validate()
	}
	spec := Heuristic(s)
	return spec, spec.Validate()
}

// IsHeuristic reports whether the spec names a heuristic.
func (s ScaleSpec) IsHeuristic() bool { return s.Heuristic != "" }

// Validate rejects unknown heuristics and non-positive numbers.
func (s ScaleSpec) Validate() error {
	if s.IsHeuristic() {
		switch s.Heuristic {
		case HeuristicXavier, HeuristicGlorot, HeuristicHe:
			return nil
		}
		return fmt.Errorf("%w: unknown heuristic %q", core.ErrInvalidScaleSpec, s.Heuristic)
	}
	if !(s.Value > 0) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("%w: %v", core.ErrInvalidScaleSpec, s.Value)
	}
	return nil
}

func (s ScaleSpec) String() string {
	if s.IsHeuristic() {
		return s.Heuristic
	}
	return strconv.FormatFloat(s.Value, 'g', -1, 64)
}

// ResolveScale turns a spec into a number. Xavier/Glorot is
// sqrt(2/(fanIn+fanOut)); He is sqrt(2/fanIn).
func ResolveScale(spec ScaleSpec, fanIn, fanOut int) (float64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	if !spec.IsHeuristic() {
		return spec.Value, nil
	}
	if fanIn < 1 {
		return 0, fmt.Errorf("%w: %s needs a positive fan-in, got %d", core.ErrInvalidScaleSpec, spec.Heuristic, fanIn)
	}
	switch spec.Heuristic {
	case HeuristicHe:
		return math.Sqrt(2 / float64(fanIn)), nil
	default:
		if fanOut < 0 {
			fanOut = 0
		}
		return math.Sqrt(2 / float64(fanIn+fanOut)), nil
	}
}

func (s ScaleSpec) MarshalJSON() ([]byte, error) {
	if s.IsHeuristic() {
		return json.Marshal(s.Heuristic)
	}
	return json.Marshal(s.Value)
}

func (s *ScaleSpec) UnmarshalJSON(b []byte) error {
	var v float64
	if err := json.Unmarshal(b, &v); err == nil {
		*s = Numeric(v)
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("%w: %s", core.ErrInvalidScaleSpec, string(b))
	}
	parsed, err := ParseScaleSpec(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s ScaleSpec) MarshalYAML() (interface{}, error) {
	if s.IsHeuristic() {
		return s.Heuristic, nil
	}
	return s.Value, nil
}

func (s *ScaleSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a number or heuristic name", core.ErrInvalidScaleSpec, node.Line)
	}
	parsed, err := ParseScaleSpec(node.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
