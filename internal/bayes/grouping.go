package bayes

import (
	"fmt"
	"strings"
	"unicode"

	"gocdr/domain/core"
)

// GroupingFactor is a categorical variable whose levels carry random effects.
// Levels counts the distinct levels observed in training; the last level is
// the reference absorbed into the fixed effect.
type GroupingFactor struct {
	Name   string `json:"name" yaml:"name"`
	Levels int    `json:"levels" yaml:"levels"`
}

// Dim is the random-effect dimensionality, Levels-1.
func (g GroupingFactor) Dim() int {
	if g.Levels < 1 {
		return 0
	}
	return g.Levels - 1
}

// GroupingRegistry is the immutable, ordered set of factors a model was
// built with.
type GroupingRegistry struct {
	factors []GroupingFactor
	index   map[string]int
}

// NewGroupingRegistry validates factor names and level counts.
func NewGroupingRegistry(factors []GroupingFactor) (*GroupingRegistry, error) {
	r := &GroupingRegistry{index: make(map[string]int, len(factors))}
	for _, f := range factors {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("%w: grouping factor with empty name", core.ErrConfiguration)
		}
		if f.Levels < 1 {
			return nil, fmt.Errorf("%w: grouping factor %q has %d levels", core.ErrConfiguration, f.Name, f.Levels)
		}
		if _, dup := r.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: grouping factor %q registered twice", core.ErrConfiguration, f.Name)
		}
		r.index[f.Name] = len(r.factors)
		r.factors = append(r.factors, f)
	}
	return r, nil
}

// Lookup returns the named factor or ErrUnknownGroupingFactor.
func (r *GroupingRegistry) Lookup(name string) (GroupingFactor, error) {
	i, ok := r.index[name]
	if !ok {
		return GroupingFactor{}, core.NewUnknownGroupingFactorError(name, r.Names())
	}
	return r.factors[i], nil
}

// Names lists factor names in registration order.
func (r *GroupingRegistry) Names() []string {
	names := make([]string, len(r.factors))
	for i, f := range r.factors {
		names[i] = f.Name
	}
	return names
}

// Factors returns a copy of the registered factors.
func (r *GroupingRegistry) Factors() []GroupingFactor {
	return append([]GroupingFactor(nil), r.factors...)
}

// sanitize makes a factor name safe to embed in a parameter name.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return '_'
	}, s)
}
