package rng

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draw(t *testing.T, name string, seed uint64) []float64 {
	t.Helper()
	r, err := NewStreams().SeededStream(context.Background(), name, seed)
	require.NoError(t, err)
	out := make([]float64, 5)
	for i := range out {
		out[i] = r.Float64()
	}
	return out
}

func TestSeededStream_Deterministic(t *testing.T) {
	assert.Equal(t, draw(t, "shuffle", 7), draw(t, "shuffle", 7))
}

func TestSeededStream_NamesAndSeedsDiffer(t *testing.T) {
	assert.NotEqual(t, draw(t, "shuffle", 7), draw(t, "init", 7))
	assert.NotEqual(t, draw(t, "shuffle", 7), draw(t, "shuffle", 8))
}

func TestSeededStream_Errors(t *testing.T) {
	_, err := NewStreams().SeededStream(context.Background(), " ", 1)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewStreams().SeededStream(ctx, "shuffle", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
