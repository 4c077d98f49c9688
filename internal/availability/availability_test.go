package availability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchgridgo/internal/geo"
	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/metrics"
	"github.com/vk/patchgridgo/internal/testutil"
	"github.com/vk/patchgridgo/internal/tiler"
	"github.com/vk/patchgridgo/internal/timewindow"
)

var march = time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

func makeTiles(n int) []tiler.Tile {
	tiles := make([]tiler.Tile, n)
	for i := range tiles {
		minX := 500000 + float64(i)*5120
		tiles[i] = tiler.Tile{
			Index: i,
			Zone:  geo.Zone{Number: 33},
			Col:   i,
			Bounds: orb.Bound{
				Min: orb.Point{minX, 5100000},
				Max: orb.Point{minX + 5120, 5105120},
			},
		}
	}
	return tiles
}

func window(t *testing.T) timewindow.Window {
	t.Helper()
	w, err := timewindow.New(march.AddDate(0, -1, 0), march.AddDate(0, 0, 1))
	require.NoError(t, err)
	return w
}

func TestValidate_ReportsTilesWithoutData(t *testing.T) {
	// --- Arrange ---
	ctx, _ := testutil.LogContext(t)
	tiles := makeTiles(3)
	catalog := testutil.NewCatalog(march)
	catalog.SetEmpty(tiles[1].Bounds)

	// --- Act ---
	missing, err := New(catalog).Validate(ctx, tiles, window(t), 0.8)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []int{1}, missing)

	queries := catalog.Queries()
	require.Len(t, queries, 3)
	for _, q := range queries {
		assert.Equal(t, geo.CRS(32633), q.CRS)
		assert.Equal(t, 0.8, q.MaxCloudCover)
	}
}

func TestValidate_SortedForAnyWorkerCount(t *testing.T) {
	tiles := makeTiles(20)
	catalog := testutil.NewCatalog(march)
	catalog.SetEmpty(tiles[17].Bounds, tiles[2].Bounds, tiles[9].Bounds)

	for _, workers := range []int{1, 2, 8, 50} {
		missing, err := New(catalog, WithWorkers(workers)).Validate(context.Background(), tiles, window(t), 1)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 9, 17}, missing, "workers=%d", workers)
	}
}

func TestValidate_WindowExcludesStamps(t *testing.T) {
	tiles := makeTiles(2)
	catalog := testutil.NewCatalog(march.AddDate(1, 0, 0))

	missing, err := New(catalog).Validate(context.Background(), tiles, window(t), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, missing)
}

func TestValidate_CatalogErrorIsNotNoData(t *testing.T) {
	tiles := makeTiles(4)
	catalog := testutil.NewCatalog(march)
	boom := errors.New("connection reset")
	catalog.SetError(tiles[2].Bounds, boom)

	missing, err := New(catalog, WithWorkers(2)).Validate(context.Background(), tiles, window(t), 1)
	assert.Nil(t, missing)
	assert.ErrorIs(t, err, boom)

	var noData *NoDataAvailableError
	assert.False(t, errors.As(err, &noData))
}

func TestGate(t *testing.T) {
	tiles := makeTiles(3)
	catalog := testutil.NewCatalog(march)
	m := metrics.New()
	v := New(catalog, WithMetrics(m))

	require.NoError(t, v.Gate(context.Background(), tiles, window(t), 1))

	catalog.SetEmpty(tiles[1].Bounds)
	err := v.Gate(context.Background(), tiles, window(t), 1)

	var noData *NoDataAvailableError
	require.ErrorAs(t, err, &noData)
	assert.Equal(t, []int{1}, noData.TileIndices)
	assert.Equal(t, "no data available for 1 tile(s): [1]", noData.Error())

	expected := `
# HELP patchgrid_availability_tiles_without_data Number of tiles with no acquisition in the time window
# TYPE patchgrid_availability_tiles_without_data gauge
patchgrid_availability_tiles_without_data 1
`
	assert.NoError(t, promtest.GatherAndCompare(m.Registry(), strings.NewReader(expected), "patchgrid_availability_tiles_without_data"))
}

func TestLatestTimestamps(t *testing.T) {
	stamps := []time.Time{march.AddDate(0, 0, -20), march.AddDate(0, 0, -10), march.AddDate(0, 0, -5), march}
	catalog := testutil.NewCatalog(stamps...)
	q := imagery.CatalogQuery{Window: window(t)}

	got, err := LatestTimestamps(context.Background(), catalog, q, 2)
	require.NoError(t, err)
	assert.Equal(t, stamps[2:], got)

	got, err = LatestTimestamps(context.Background(), catalog, q, 10)
	require.NoError(t, err)
	assert.Equal(t, stamps, got)
}

func TestValidator_LatestPerTile(t *testing.T) {
	// --- Arrange ---
	ctx, _ := testutil.LogContext(t)
	tiles := makeTiles(3)
	stamps := []time.Time{march.AddDate(0, 0, -10), march.AddDate(0, 0, -5), march}
	catalog := testutil.NewCatalog(stamps...)
	catalog.SetEmpty(tiles[2].Bounds)

	// --- Act ---
	latest, err := New(catalog, WithWorkers(2)).Latest(ctx, tiles, window(t), 0.8, 2)

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, stamps[1:], latest[0])
	assert.Equal(t, stamps[1:], latest[1])
	assert.Empty(t, latest[2])
}
