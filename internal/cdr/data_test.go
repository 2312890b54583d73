package cdr_test

import (
	"testing"

	"gocdr/domain/core"
	"gocdr/internal/cdr"
	"gocdr/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	d, err := cdr.Summarize([]string{"x1"}, "rt", []float64{1, 2, 3, 4}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.5, d.TrainMean)
	// sample sd of 1..4
	assert.InDelta(t, 1.2909944487, d.TrainSD, 1e-9)
	assert.Equal(t, 4, d.NTrain)
	assert.Equal(t, 1, d.NImpulses())
}

func TestSummarize_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		impulses []string
		y        []float64
		history  int
	}{
		{"no impulses", nil, []float64{1, 2}, 1},
		{"one response", []string{"x"}, []float64{1}, 1},
		{"constant response", []string{"x"}, []float64{2, 2, 2}, 1},
		{"no history", []string{"x"}, []float64{1, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cdr.Summarize(tt.impulses, "y", tt.y, tt.history, nil)
			assert.Error(t, err)
		})
	}
}

func TestBatch_Validate(t *testing.T) {
	b, err := testkit.NewImpulseGenerator(testkit.DefaultImpulseConfig()).Generate()
	require.NoError(t, err)
	require.NoError(t, b.Validate(2, true))

	assert.ErrorIs(t, cdr.Batch{}.Validate(2, false), core.ErrEmptyBatch)
	assert.True(t, core.IsShapeError(b.Validate(3, true)))

	short := b
	short.Y = b.Y[:3]
	assert.True(t, core.IsShapeError(short.Validate(2, true)))
	assert.True(t, core.IsShapeError(short.Validate(2, false)))

	short.Y = nil
	assert.NoError(t, short.Validate(2, false))

	lv := b
	lv.Levels = map[string][]int{"subject": {0}}
	assert.True(t, core.IsShapeError(lv.Validate(2, false)))
}

func TestBatch_Slice(t *testing.T) {
	b, err := testkit.NewImpulseGenerator(testkit.DefaultImpulseConfig()).Generate()
	require.NoError(t, err)

	s := b.Slice([]int{5, 1})
	require.Equal(t, 2, s.Len())
	assert.Equal(t, b.Steps(), s.Steps())
	assert.Equal(t, b.Y[5], s.Y[0])
	assert.Equal(t, b.Levels["subject"][1], s.Levels["subject"][1])
	assert.Equal(t, b.TimeDeltas[0][5], s.TimeDeltas[0][0])

	s.Impulses[0][0][0] = 1e9
	assert.NotEqual(t, 1e9, b.Impulses[0][5][0])
}
