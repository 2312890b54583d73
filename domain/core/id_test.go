package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_Unique(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.False(t, a.IsEmpty())
	assert.True(t, ID("").IsEmpty())
}

func TestParseRunID(t *testing.T) {
	id := NewRunID()
	parsed, err := ParseRunID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.NotEqual(t, uuid.Nil, parsed.UUID())

	_, err = ParseRunID("  ")
	assert.Error(t, err)
	_, err = ParseRunID("not-a-uuid")
	assert.Error(t, err)
	assert.Equal(t, uuid.Nil, RunID("not-a-uuid").UUID())
}

func TestFingerprint_StableAcrossKeyOrder(t *testing.T) {
	a, err := Fingerprint(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := Fingerprint(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a.Short(), 12)

	c, err := Fingerprint(map[string]interface{}{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
