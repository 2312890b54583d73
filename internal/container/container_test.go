package container

import (
	"context"
	"testing"

	"gocdr/adapters/rng"
	"gocdr/internal/config"
	"gocdr/internal/errors"
	"gocdr/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WithoutDatabase(t *testing.T) {
	c, err := New(&config.Config{}, testkit.QuietLogger())
	require.NoError(t, err)
	assert.NotNil(t, c.FitService)
	assert.Nil(t, c.RunRepo)
	assert.IsType(t, &rng.Streams{}, c.RNG)

	_, err = New(nil, nil)
	assert.Error(t, err)
}

func TestInitWithDatabase_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDatabase(ctx, "sqlite::memory:", 4)
	require.NoError(t, err)

	c, err := New(&config.Config{}, testkit.QuietLogger())
	require.NoError(t, err)
	require.NoError(t, c.InitWithDatabase(ctx, db))
	require.NotNil(t, c.RunRepo)

	runs, err := c.RunRepo.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.NoError(t, c.Shutdown(ctx))
}

func TestOpenDatabase_RequiresURL(t *testing.T) {
	_, err := OpenDatabase(context.Background(), "", 1)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
