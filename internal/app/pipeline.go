package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/patchgridgo/internal/availability"
	"github.com/vk/patchgridgo/internal/config"
	"github.com/vk/patchgridgo/internal/ctxlog"
	"github.com/vk/patchgridgo/internal/geo"
	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/job"
	"github.com/vk/patchgridgo/internal/orchestrator"
	"github.com/vk/patchgridgo/internal/retry"
	"github.com/vk/patchgridgo/internal/runlog"
	"github.com/vk/patchgridgo/internal/shape"
	"github.com/vk/patchgridgo/internal/tiler"
	"github.com/vk/patchgridgo/internal/timewindow"
)

// TileIndexFile is the name of the tile index written next to the patches.
const TileIndexFile = "tiles.geojson"

// Plan is the tiled area of interest.
type Plan struct {
	AOI        geo.AreaOfInterest
	SideLength float64
	Tiling     *tiler.Tiling
}

// Plan loads the AOI and tiles it.
func (a *App) Plan(ctx context.Context) (*Plan, error) {
	ctx = a.context(ctx)
	logger := ctxlog.FromContext(ctx)

	side, err := tiler.SideLength(a.config.SizeParams())
	if err != nil {
		return nil, err
	}
	aoi, err := shape.NewProvider().Load(ctx, a.config.AOI)
	if err != nil {
		return nil, err
	}
	aoi = aoi.WithBuffer(a.config.BufferFor(side))

	var opts []tiler.Option
	if a.config.Tiling.AlignedOrigin {
		opts = append(opts, tiler.WithAlignedOrigin())
	}
	tiling, err := tiler.New(opts...).Split(aoi, side)
	if err != nil {
		return nil, err
	}

	a.metrics.SetTiles(len(tiling.Tiles))
	logger.Info("Area of interest tiled.", "tiles", len(tiling.Tiles), "zones", len(tiling.Zones),
		"side_length", side, "buffer", aoi.Buffer, "crs", aoi.CRS.String())
	return &Plan{AOI: aoi, SideLength: side, Tiling: tiling}, nil
}

// WriteTileIndex writes the tiles of the plan as a GeoJSON feature
// collection to path.
func (a *App) WriteTileIndex(ctx context.Context, plan *Plan, path string) error {
	data, err := json.MarshalIndent(plan.Tiling.FeatureCollection(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tile index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for tile index: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write tile index: %w", err)
	}
	ctxlog.FromContext(a.context(ctx)).Info("Tile index written.", "path", path, "tiles", len(plan.Tiling.Tiles))
	return nil
}

// CheckAvailability returns the tiles without imagery in the configured
// window, ascending.
func (a *App) CheckAvailability(ctx context.Context, plan *Plan) ([]int, error) {
	ctx = a.context(ctx)
	window, err := a.config.Window(a.now())
	if err != nil {
		return nil, err
	}
	if err := a.ensureSentinel(ctx); err != nil {
		return nil, err
	}
	return a.validator().Validate(ctx, plan.Tiling.Tiles, window, a.config.Acquisition.MaxCloudCover)
}

// LatestAcquisitions returns, per tile index, the last n acquisitions in the
// configured window, oldest first.
func (a *App) LatestAcquisitions(ctx context.Context, plan *Plan, n int) (map[int][]time.Time, error) {
	ctx = a.context(ctx)
	window, err := a.config.Window(a.now())
	if err != nil {
		return nil, err
	}
	if err := a.ensureSentinel(ctx); err != nil {
		return nil, err
	}
	return a.validator().Latest(ctx, plan.Tiling.Tiles, window, a.config.Acquisition.MaxCloudCover, n)
}

// Run executes the whole pipeline. On a partial failure it returns the
// report together with an *orchestrator.RunFailureError; when imagery is
// missing it stops before any retrieval with an
// *availability.NoDataAvailableError.
func (a *App) Run(ctx context.Context) (*orchestrator.RunReport, error) {
	ctx = a.context(ctx)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("App.Run method started.")

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	if err := a.startServer(ctx, a.config.MetricsAddr); err != nil {
		return nil, err
	}
	defer func() { _ = a.closeServer(ctx) }()

	window, err := a.config.Window(a.now())
	if err != nil {
		return nil, err
	}
	plan, err := a.Plan(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.ensureSentinel(ctx); err != nil {
		return nil, err
	}

	if a.config.SkipAvailabilityCheck {
		logger.Warn("Skipping availability check.")
	} else if err := a.validator().Gate(ctx, plan.Tiling.Tiles, window, a.config.Acquisition.MaxCloudCover); err != nil {
		return nil, err
	}

	jobs, err := job.BuildAll(plan.Tiling.Tiles, window, a.nameFunc())
	if err != nil {
		return nil, err
	}
	if err := a.ensureSink(ctx); err != nil {
		return nil, err
	}

	store, err := runlog.Open(a.config.RunLogDir())
	if err != nil {
		return nil, err
	}
	execLog, err := store.ExecutionLog()
	if err != nil {
		return nil, err
	}
	defer execLog.Close()
	ctx = ctxlog.WithLogger(ctx, withExecutionLog(logger, execLog))

	return orchestrator.New(a.retriever, a.sink, a.orchestratorOptions(store)...).Run(ctx, jobs)
}

func (a *App) validator() *availability.Validator {
	return availability.New(a.catalog,
		availability.WithWorkers(a.config.Workers),
		availability.WithMetrics(a.metrics),
	)
}

func (a *App) nameFunc() job.NameFunc {
	if a.config.Naming == config.NamingGrid {
		return job.ZoneGridName
	}
	return job.DefaultName
}

func (a *App) orchestratorOptions(store *runlog.Store) []orchestrator.Option {
	acq := a.config.Acquisition
	opts := []orchestrator.Option{
		orchestrator.WithWorkers(a.config.Workers),
		orchestrator.WithStore(store),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithRequestSpec(orchestrator.RequestSpec{
			Bands:         acq.Bands,
			MaxCloudCover: acq.MaxCloudCover,
			Mosaicking:    imagery.Mosaicking(acq.Mosaicking),
			Resolution:    a.config.Tiling.Resolution,
		}),
	}
	if a.config.Retries > 0 {
		opts = append(opts, orchestrator.WithRetry(retry.New(
			retry.WithMaxRetries(a.config.Retries),
			retry.WithInitialDelay(a.config.RetryDelay),
		)))
	}
	return opts
}

// Window resolves the configured time window.
func (a *App) Window() (timewindow.Window, error) {
	return a.config.Window(a.now())
}
