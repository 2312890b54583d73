package ports

import (
	"context"
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation.
	// The same name and seed always yield the same sequence.
	SeededStream(ctx context.Context, name string, seed uint64) (*rand.Rand, error)
}
