package main

import (
	"path/filepath"
	"testing"

	"gocdr/internal/testkit"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	if diff := cmp.Diff([]string{"x1", "x2"}, splitList(" x1, ,x2 ")); diff != "" {
		t.Errorf("splitList mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, splitList(""))
}

func TestLevelsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := map[string][]string{"subject": {"a", "b", "c"}}
	require.NoError(t, writeLevels(dir, want))

	got, err := readLevels(dir)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
	assert.FileExists(t, filepath.Join(dir, LevelsFile))
}

func TestReadLevels_Missing(t *testing.T) {
	got, err := readLevels(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTableFlags_SyntheticLoad(t *testing.T) {
	f := tableFlags{response: "y", synthetic: 20}
	ds, names, err := f.load(testkit.QuietLogger(), nil)
	require.NoError(t, err)
	assert.Equal(t, 20, ds.Batch.Len())
	assert.Equal(t, []string{"x1", "x2"}, names)
	assert.Len(t, ds.LevelNames["subject"], 3)
}
