package testkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImpulseGenerator_Basic(t *testing.T) {
	config := DefaultImpulseConfig()
	b, err := NewImpulseGenerator(config).Generate()
	require.NoError(t, err)

	require.NoError(t, b.Validate(config.Impulses, true))
	assert.Equal(t, config.Observations, b.Len())
	assert.Equal(t, config.HistoryLength, b.Steps())

	for i := 0; i < b.Len(); i++ {
		// oldest step is furthest from the response
		for s := 1; s < b.Steps(); s++ {
			assert.Greater(t, b.TimeDeltas[s-1][i], b.TimeDeltas[s][i])
		}
		level := b.Levels["subject"][i]
		assert.GreaterOrEqual(t, level, 0)
		assert.Less(t, level, 3)
	}
}

func TestImpulseGenerator_Deterministic(t *testing.T) {
	a, err := NewImpulseGenerator(DefaultImpulseConfig()).Generate()
	require.NoError(t, err)
	b, err := NewImpulseGenerator(DefaultImpulseConfig()).Generate()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other := DefaultImpulseConfig()
	other.Seed = 43
	c, err := NewImpulseGenerator(other).Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a.Y, c.Y)
}

func TestImpulseGenerator_InvalidConfig(t *testing.T) {
	config := DefaultImpulseConfig()
	config.HistoryLength = 0
	_, err := NewImpulseGenerator(config).Generate()
	assert.Error(t, err)
}

func TestImpulseGenerator_Fixture(t *testing.T) {
	_, summary, err := NewImpulseGenerator(DefaultImpulseConfig()).Fixture()
	require.NoError(t, err)
	assert.Equal(t, []string{"x1", "x2"}, summary.ImpulseNames)
	assert.Equal(t, "y", summary.ResponseName)
	assert.Positive(t, summary.TrainSD)
	assert.Len(t, summary.GroupingFactors, 1)
}
