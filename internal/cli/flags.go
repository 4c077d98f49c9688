package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/vk/patchgridgo/internal/config"
)

// options holds the flag values shared by the pipeline commands. A flag only
// overrides the configuration file when it was set explicitly.
type options struct {
	configPath string

	aoi        string
	out        string
	logDir     string
	date       string
	start      string
	end        string
	months     int
	resolution float64
	patchSize  int
	fixedSize  float64
	buffer     float64
	aligned    bool

	bands         []string
	maxCloudCover float64
	mosaicking    string

	workers     int
	retries     int
	retryDelay  time.Duration
	timeout     time.Duration
	skipCheck   bool
	naming      string
	storage     string
	bucket      string
	prefix      string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func (o *options) bind(fs *pflag.FlagSet) {
	d := config.Default()

	fs.StringVarP(&o.configPath, "config", "c", "", "Path to an HCL run configuration file")
	fs.StringVar(&o.aoi, "aoi", "", "Path to the area of interest (GeoJSON)")
	fs.StringVarP(&o.out, "out", "o", d.OutputDir, "Output directory for patches")
	fs.StringVar(&o.logDir, "log-dir", "", "Run log root (default: <out>/logs)")

	fs.StringVar(&o.date, "date", "", "Acquire the month ending at this date (dd-mm-YYYY)")
	fs.StringVar(&o.start, "start", "", "Start of the time window (dd-mm-YYYY)")
	fs.StringVar(&o.end, "end", "", "End of the time window (dd-mm-YYYY)")
	fs.IntVar(&o.months, "months", d.Acquisition.Months, "Months back from now when no date is given")

	fs.Float64Var(&o.resolution, "resolution", d.Tiling.Resolution, "Pixel size in metres")
	fs.IntVar(&o.patchSize, "patch-size", d.Tiling.PatchSize, "Patch side in pixels")
	fs.Float64Var(&o.fixedSize, "fixed-size", 0, "Tile side in metres, overrides resolution x patch size")
	fs.Float64Var(&o.buffer, "buffer", 0, "AOI buffer in metres (default: one tile side)")
	fs.BoolVar(&o.aligned, "aligned-origin", false, "Snap grid origins to multiples of the tile side")

	fs.StringSliceVar(&o.bands, "bands", d.Acquisition.Bands, "Spectral bands to download")
	fs.Float64Var(&o.maxCloudCover, "max-cloud-cover", d.Acquisition.MaxCloudCover, "Maximum cloud cover in [0, 1]")
	fs.StringVar(&o.mosaicking, "mosaicking", d.Acquisition.Mosaicking, "Mosaicking order: mostRecent, leastRecent or leastCC")

	fs.IntVarP(&o.workers, "workers", "w", d.Workers, "Number of concurrent workers")
	fs.IntVar(&o.retries, "retries", d.Retries, "Retries per job after the first attempt")
	fs.DurationVar(&o.retryDelay, "retry-delay", d.RetryDelay, "Delay before the first retry")
	fs.DurationVar(&o.timeout, "timeout", 0, "Abort the run after this duration (0 disables)")
	fs.BoolVar(&o.skipCheck, "skip-availability-check", false, "Do not check imagery availability before downloading")
	fs.StringVar(&o.naming, "naming", d.Naming, "Patch naming: index or grid")
	fs.StringVar(&o.storage, "storage", d.Storage.Kind, "Patch storage: fs or s3")
	fs.StringVar(&o.bucket, "bucket", "", "S3 bucket for storage=s3")
	fs.StringVar(&o.prefix, "prefix", "", "S3 key prefix for storage=s3")

	fs.StringVar(&o.logLevel, "log-level", d.LogLevel, "Logging level: debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "", "Log format: text or json (default: text on a terminal)")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve /health and /metrics on this address")
}

// resolve loads the configuration file, applies the flags that were set and
// validates the result.
func (o *options) resolve(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		if err := config.LoadInto(cmd.Context(), o.configPath, &cfg); err != nil {
			return nil, err
		}
	}

	fs := cmd.Flags()
	changed := func(name string) bool { return fs.Changed(name) }

	if changed("aoi") {
		cfg.AOI = o.aoi
	}
	if changed("out") {
		cfg.OutputDir = o.out
	}
	if changed("log-dir") {
		cfg.LogDir = o.logDir
	}
	if changed("date") {
		cfg.Acquisition.Date = o.date
		cfg.Acquisition.Start, cfg.Acquisition.End = "", ""
	}
	if changed("start") || changed("end") {
		cfg.Acquisition.Start, cfg.Acquisition.End = o.start, o.end
		cfg.Acquisition.Date = ""
	}
	if changed("months") {
		cfg.Acquisition.Months = o.months
	}
	if changed("resolution") {
		cfg.Tiling.Resolution = o.resolution
	}
	if changed("patch-size") {
		cfg.Tiling.PatchSize = o.patchSize
	}
	if changed("fixed-size") {
		cfg.Tiling.FixedSize = o.fixedSize
	}
	if changed("buffer") {
		b := o.buffer
		cfg.Tiling.Buffer = &b
	}
	if changed("aligned-origin") {
		cfg.Tiling.AlignedOrigin = o.aligned
	}
	if changed("bands") {
		cfg.Acquisition.Bands = o.bands
	}
	if changed("max-cloud-cover") {
		cfg.Acquisition.MaxCloudCover = o.maxCloudCover
	}
	if changed("mosaicking") {
		cfg.Acquisition.Mosaicking = o.mosaicking
	}
	if changed("workers") {
		cfg.Workers = o.workers
	}
	if changed("retries") {
		cfg.Retries = o.retries
	}
	if changed("retry-delay") {
		cfg.RetryDelay = o.retryDelay
	}
	if changed("timeout") {
		cfg.Timeout = o.timeout
	}
	if changed("skip-availability-check") {
		cfg.SkipAvailabilityCheck = o.skipCheck
	}
	if changed("naming") {
		cfg.Naming = o.naming
	}
	if changed("storage") {
		cfg.Storage.Kind = o.storage
	}
	if changed("bucket") {
		cfg.Storage.Bucket = o.bucket
	}
	if changed("prefix") {
		cfg.Storage.Prefix = o.prefix
	}
	if changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = o.logFormat
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// noArgs rejects positional arguments as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &ExitError{Code: exitUsage, Message: fmt.Sprintf("unexpected argument %q for %q", args[0], cmd.CommandPath())}
	}
	return nil
}

// exactArgs requires n positional arguments, reporting a usage error
// otherwise.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &ExitError{Code: exitUsage, Message: fmt.Sprintf("%q expects %d argument(s), got %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}
