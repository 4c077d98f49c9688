// Package availability checks, before any imagery is retrieved, that every
// tile has at least one acquisition in the requested time window.
package availability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vk/patchgridgo/internal/ctxlog"
	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/metrics"
	"github.com/vk/patchgridgo/internal/tiler"
	"github.com/vk/patchgridgo/internal/timewindow"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// NoDataAvailableError lists the tiles without any acquisition. The run is
// aborted before any job is built.
type NoDataAvailableError struct {
	TileIndices []int
}

func (e *NoDataAvailableError) Error() string {
	ids := make([]string, len(e.TileIndices))
	for i, idx := range e.TileIndices {
		ids[i] = fmt.Sprint(idx)
	}
	return fmt.Sprintf("no data available for %d tile(s): [%s]", len(e.TileIndices), strings.Join(ids, ", "))
}

// Validator queries a catalog for every tile.
type Validator struct {
	catalog imagery.Catalog
	workers int
	metrics *metrics.Metrics
}

// Option configures a Validator.
type Option func(*Validator)

// WithWorkers bounds the number of concurrent catalog queries. Values below
// one are treated as one.
func WithWorkers(n int) Option {
	return func(v *Validator) {
		if n < 1 {
			n = 1
		}
		v.workers = n
	}
}

// WithMetrics records query counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// New creates a Validator for the catalog.
func New(catalog imagery.Catalog, opts ...Option) *Validator {
	v := &Validator{catalog: catalog, workers: defaultWorkers}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the ascending indices of tiles for which the catalog has
// no acquisition. A catalog error aborts the check and is returned as is.
func (v *Validator) Validate(ctx context.Context, tiles []tiler.Tile, window timewindow.Window, maxCloudCover float64) ([]int, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Checking data availability.", "tiles", len(tiles), "window", window.String(), "workers", v.workers)

	var (
		mu      sync.Mutex
		missing []int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for _, tile := range tiles {
		g.Go(func() error {
			start := time.Now()
			stamps, err := v.catalog.Timestamps(gctx, imagery.CatalogQuery{
				Bounds:        tile.Bounds,
				CRS:           tile.CRS(),
				Window:        window,
				MaxCloudCover: maxCloudCover,
			})
			if err != nil {
				v.metrics.RecordCatalogQuery("error", time.Since(start))
				return fmt.Errorf("catalog query for tile %d failed: %w", tile.Index, err)
			}
			if len(stamps) > 0 {
				v.metrics.RecordCatalogQuery("data", time.Since(start))
				return nil
			}

			v.metrics.RecordCatalogQuery("empty", time.Since(start))
			logger.Debug("No acquisitions for tile.", "tile", tile.Index, "zone", tile.Zone.String())
			mu.Lock()
			missing = append(missing, tile.Index)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Ints(missing)
	v.metrics.SetNoDataTiles(len(missing))
	logger.Debug("Availability check finished.", "tiles_without_data", len(missing))
	return missing, nil
}

// Gate runs Validate and turns a non-empty result into a
// *NoDataAvailableError.
func (v *Validator) Gate(ctx context.Context, tiles []tiler.Tile, window timewindow.Window, maxCloudCover float64) error {
	missing, err := v.Validate(ctx, tiles, window, maxCloudCover)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &NoDataAvailableError{TileIndices: missing}
	}
	ctxlog.FromContext(ctx).Info("✅ Imagery is available for every tile.", "tiles", len(tiles))
	return nil
}

// LatestTimestamps returns the last n acquisitions matching the query, oldest
// first. Fewer are returned when the catalog has fewer.
func LatestTimestamps(ctx context.Context, catalog imagery.Catalog, q imagery.CatalogQuery, n int) ([]time.Time, error) {
	stamps, err := catalog.Timestamps(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list timestamps: %w", err)
	}
	if n < 0 {
		n = 0
	}
	if len(stamps) > n {
		stamps = stamps[len(stamps)-n:]
	}
	return stamps, nil
}

// Latest returns, per tile index, the last n acquisitions in the window,
// oldest first. Tiles without data map to an empty slice.
func (v *Validator) Latest(ctx context.Context, tiles []tiler.Tile, window timewindow.Window, maxCloudCover float64, n int) (map[int][]time.Time, error) {
	var mu sync.Mutex
	out := make(map[int][]time.Time, len(tiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for _, tile := range tiles {
		g.Go(func() error {
			start := time.Now()
			stamps, err := LatestTimestamps(gctx, v.catalog, imagery.CatalogQuery{
				Bounds:        tile.Bounds,
				CRS:           tile.CRS(),
				Window:        window,
				MaxCloudCover: maxCloudCover,
			}, n)
			if err != nil {
				v.metrics.RecordCatalogQuery("error", time.Since(start))
				return fmt.Errorf("catalog query for tile %d failed: %w", tile.Index, err)
			}
			outcome := "data"
			if len(stamps) == 0 {
				outcome = "empty"
			}
			v.metrics.RecordCatalogQuery(outcome, time.Since(start))
			mu.Lock()
			out[tile.Index] = stamps
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
