// Package rng implements ports.RNGPort with PCG streams keyed by name.
package rng

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"

	"gocdr/ports"
)

// Streams hands out independent deterministic streams. Two calls with the
// same name and seed return generators producing identical sequences.
type Streams struct{}

// NewStreams creates a stream source
func NewStreams() ports.RNGPort {
	return &Streams{}
}

// SeededStream returns a PCG generator whose second word is derived from name.
func (s *Streams) SeededStream(ctx context.Context, name string, seed uint64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("rng: stream name cannot be empty")
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	return rand.New(rand.NewPCG(seed, h.Sum64())), nil
}
