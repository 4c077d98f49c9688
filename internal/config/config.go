package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/tiler"
	"github.com/vk/patchgridgo/internal/timewindow"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	StorageFS = "fs"
	StorageS3 = "s3"

	NamingIndex = "index"
	NamingGrid  = "grid"
)

// Config is the resolved configuration of a run.
type Config struct {
	AOI       string
	OutputDir string
	// LogDir is the run log root; empty means <OutputDir>/logs.
	LogDir string

	Workers               int
	Retries               int
	RetryDelay            time.Duration
	Timeout               time.Duration
	SkipAvailabilityCheck bool
	Naming                string

	LogLevel    string
	LogFormat   string
	MetricsAddr string

	Tiling      Tiling
	Acquisition Acquisition
	Sentinel    Sentinel
	Storage     Storage
}

// Tiling selects the tile size and the AOI buffer.
type Tiling struct {
	// Resolution is the pixel size in metres.
	Resolution float64
	PatchSize  int
	// FixedSize, when positive, is the tile side in metres and takes
	// precedence over Resolution × PatchSize.
	FixedSize float64
	// Buffer grows the AOI before tiling. Nil means one tile side.
	Buffer        *float64
	AlignedOrigin bool
}

// Acquisition selects the imagery and its time window.
type Acquisition struct {
	Collection    string
	Bands         []string
	MaxCloudCover float64
	Mosaicking    string

	// Date selects the month ending at that day (dd-mm-YYYY).
	Date string
	// Start and End select an explicit window (dd-mm-YYYY).
	Start string
	End   string
	// Months selects the window ending now when neither Date nor Start/End
	// is set.
	Months int
}

// Sentinel holds the Sentinel Hub account.
type Sentinel struct {
	ClientID          string
	ClientSecret      string
	TokenURL          string
	BaseURL           string
	RequestsPerSecond float64
	MaxInFlight       int
}

// Storage selects the patch sink.
type Storage struct {
	Kind      string
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Default returns the configuration used when neither the file nor flags
// set a value.
func Default() Config {
	return Config{
		OutputDir:  "./patches",
		Workers:    4,
		RetryDelay: 2 * time.Second,
		Naming:     NamingIndex,
		LogLevel:   "info",
		Tiling: Tiling{
			Resolution: 10,
			PatchSize:  512,
		},
		Acquisition: Acquisition{
			Collection:    "sentinel-2-l1c",
			Bands:         []string{"B02", "B03", "B04", "B08"},
			MaxCloudCover: 0.8,
			Mosaicking:    string(imagery.LeastCC),
			Months:        1,
		},
		Storage: Storage{Kind: StorageFS},
	}
}

// SizeParams returns the tile sizing mode.
func (c *Config) SizeParams() tiler.SizeParams {
	if c.Tiling.FixedSize > 0 {
		return tiler.SizeParams{FixedMeters: c.Tiling.FixedSize}
	}
	return tiler.SizeParams{Resolution: c.Tiling.Resolution, PatchSize: c.Tiling.PatchSize}
}

// BufferFor returns the AOI buffer for tiles of the given side.
func (c *Config) BufferFor(side float64) float64 {
	if c.Tiling.Buffer == nil {
		return side
	}
	return *c.Tiling.Buffer
}

// RunLogDir returns the run log root directory.
func (c *Config) RunLogDir() string {
	if c.LogDir != "" {
		return c.LogDir
	}
	return filepath.Join(c.OutputDir, "logs")
}

// Window resolves the acquisition time window relative to now.
func (c *Config) Window(now time.Time) (timewindow.Window, error) {
	a := c.Acquisition
	switch {
	case a.Start != "" || a.End != "":
		if a.Start == "" || a.End == "" {
			return timewindow.Window{}, fmt.Errorf("%w: start and end must be set together", ErrInvalidConfig)
		}
		start, err := timewindow.ParseDate(a.Start)
		if err != nil {
			return timewindow.Window{}, err
		}
		end, err := timewindow.ParseDate(a.End)
		if err != nil {
			return timewindow.Window{}, err
		}
		return timewindow.New(start, end)
	case a.Date != "":
		d, err := timewindow.ParseDate(a.Date)
		if err != nil {
			return timewindow.Window{}, err
		}
		return timewindow.LastMonthSpan(d), nil
	}
	return timewindow.LastMonths(now, a.Months)
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.AOI == "" {
		add("aoi is required")
	}
	if c.OutputDir == "" {
		add("output_dir is required")
	}
	if c.Workers < 1 {
		add("workers must be at least 1, got %d", c.Workers)
	}
	if c.Retries < 0 {
		add("retries must not be negative, got %d", c.Retries)
	}
	if c.Timeout < 0 {
		add("timeout must not be negative, got %s", c.Timeout)
	}
	if c.Naming != NamingIndex && c.Naming != NamingGrid {
		add("naming must be %q or %q, got %q", NamingIndex, NamingGrid, c.Naming)
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		add("log level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		add("log format must be text or json, got %q", c.LogFormat)
	}

	t := c.Tiling
	if t.Resolution <= 0 {
		add("tiling resolution must be positive, got %g", t.Resolution)
	}
	if t.FixedSize < 0 {
		add("tiling fixed_size must not be negative, got %g", t.FixedSize)
	}
	if t.FixedSize == 0 && t.PatchSize <= 0 {
		add("tiling patch_size must be positive when fixed_size is unset, got %d", t.PatchSize)
	}
	if t.Buffer != nil && *t.Buffer < 0 {
		add("tiling buffer must not be negative, got %g", *t.Buffer)
	}

	a := c.Acquisition
	if len(a.Bands) == 0 {
		add("acquisition needs at least one band")
	}
	for _, b := range a.Bands {
		if b == "" || b == imagery.MaskBand {
			add("acquisition band %q is not allowed", b)
		}
	}
	if a.MaxCloudCover < 0 || a.MaxCloudCover > 1 {
		add("max_cloud_cover must be within [0, 1], got %g", a.MaxCloudCover)
	}
	if _, err := imagery.ParseMosaicking(a.Mosaicking); err != nil {
		errs = append(errs, err)
	}
	if a.Months < 0 {
		add("months must not be negative, got %d", a.Months)
	}
	if _, err := c.Window(time.Now()); err != nil {
		errs = append(errs, err)
	}

	switch c.Storage.Kind {
	case StorageFS:
	case StorageS3:
		if c.Storage.Bucket == "" {
			add("storage bucket is required for kind %q", StorageS3)
		}
	default:
		add("storage kind must be %q or %q, got %q", StorageFS, StorageS3, c.Storage.Kind)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

var logLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}
