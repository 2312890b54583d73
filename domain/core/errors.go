package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Configuration errors are fatal at model construction time
	ErrConfiguration         = errors.New("invalid model configuration")
	ErrUnknownGroupingFactor = fmt.Errorf("%w: unknown grouping factor", ErrConfiguration)
	ErrMissingOptimizer      = fmt.Errorf("%w: an optimizer name must be supplied", ErrConfiguration)
	ErrUnknownOptimizer      = fmt.Errorf("%w: unknown optimizer", ErrConfiguration)
	ErrUnknownActivation     = fmt.Errorf("%w: unknown activation", ErrConfiguration)
	ErrUnknownConstraint     = fmt.Errorf("%w: unknown scale constraint", ErrConfiguration)
	ErrUnknownRegularizer    = fmt.Errorf("%w: unknown regularizer", ErrConfiguration)
	ErrInvalidScaleSpec      = fmt.Errorf("%w: invalid prior scale", ErrConfiguration)
	ErrDuplicateParameter    = fmt.Errorf("%w: duplicate parameter name", ErrConfiguration)

	// Input errors
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrEmptyBatch    = errors.New("empty batch")

	// Persistence errors
	ErrNotFound         = errors.New("resource not found")
	ErrRunNotFound      = fmt.Errorf("%w: run", ErrNotFound)
	ErrParameterMissing = fmt.Errorf("%w: parameter", ErrNotFound)
)

// NewUnknownGroupingFactorError reports a random effect requested for a factor
// that was never registered from the training data.
func NewUnknownGroupingFactorError(name string, registered []string) error {
	return fmt.Errorf("%w %q (registered: %v)", ErrUnknownGroupingFactor, name, registered)
}

// NewShapeError describes a tensor or batch whose dimensions do not line up.
func NewShapeError(what string, want, got interface{}) error {
	return fmt.Errorf("%w: %s: want %v, got %v", ErrShapeMismatch, what, want, got)
}

// NewDuplicateParameterError reports a second parameter with an existing name.
func NewDuplicateParameterError(name string) error {
	return fmt.Errorf("%w: %s", ErrDuplicateParameter, name)
}

// Error checking helpers
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsShapeError(err error) bool {
	return errors.Is(err, ErrShapeMismatch) || errors.Is(err, ErrEmptyBatch)
}
