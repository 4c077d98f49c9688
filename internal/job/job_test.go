package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchgridgo/internal/geo"
	"github.com/vk/patchgridgo/internal/tiler"
	"github.com/vk/patchgridgo/internal/timewindow"
)

func tiles(n int) []tiler.Tile {
	out := make([]tiler.Tile, n)
	for i := range out {
		out[i] = tiler.Tile{Index: i, Zone: geo.Zone{Number: 33}, Row: i / 2, Col: i % 2}
	}
	return out
}

func TestBuildAll_DefaultNames(t *testing.T) {
	w, err := timewindow.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	jobs, err := BuildAll(tiles(3), w, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	for i, j := range jobs {
		assert.Equal(t, i, j.Tile.Index)
		assert.Equal(t, w, j.Window)
	}
	assert.Equal(t, "patch_0", jobs[0].Name)
	assert.Equal(t, "patch_2", jobs[2].Name)
}

func TestBuild_ZoneGridName(t *testing.T) {
	j := Build(tiles(4)[3], timewindow.Window{}, ZoneGridName)
	assert.Equal(t, "33N_r001_c001", j.Name)
}

func TestBuildAll_RejectsCollisions(t *testing.T) {
	constant := func(int, tiler.Tile) string { return "same" }

	jobs, err := BuildAll(tiles(2), timewindow.Window{}, constant)
	assert.Nil(t, jobs)
	assert.ErrorIs(t, err, ErrNameCollision)
	assert.Contains(t, err.Error(), `tiles 0 ("same") and 1 ("same")`)
}

func TestBuildAll_RejectsCollisionsAfterFileNameMapping(t *testing.T) {
	names := map[int]string{0: "a/b", 1: "a_b"}
	byIndex := func(i int, _ tiler.Tile) string { return names[i] }

	jobs, err := BuildAll(tiles(2), timewindow.Window{}, byIndex)
	assert.Nil(t, jobs)
	assert.ErrorIs(t, err, ErrNameCollision)
	assert.Contains(t, err.Error(), `both map to "a_b"`)
}

func TestFileName(t *testing.T) {
	testCases := map[string]string{
		"patch_7":       "patch_7",
		"33N_r002_c010": "33N_r002_c010",
		"../escape/me":  ".._escape_me",
		"a b":           "a_b",
		"  ":            "unnamed",
	}
	for in, want := range testCases {
		assert.Equal(t, want, FileName(in), "FileName(%q)", in)
	}
}

func TestBuildAll_Empty(t *testing.T) {
	jobs, err := BuildAll(nil, timewindow.Window{}, DefaultName)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
