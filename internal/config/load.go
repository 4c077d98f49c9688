package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/patchgridgo/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// DiagnosticsError carries the HCL diagnostics of a config file.
type DiagnosticsError struct {
	Path  string
	Diags hcl.Diagnostics
}

func (e *DiagnosticsError) Error() string {
	return fmt.Sprintf("failed to load config %s: %s", e.Path, e.Diags.Error())
}

func (e *DiagnosticsError) Unwrap() error {
	return e.Diags
}

// fileRoot mirrors the HCL file. Pointers distinguish unset attributes from
// zero values so defaults survive.
type fileRoot struct {
	AOI                   *string `hcl:"aoi,optional"`
	OutputDir             *string `hcl:"output_dir,optional"`
	LogDir                *string `hcl:"log_dir,optional"`
	Workers               *int    `hcl:"workers,optional"`
	Retries               *int    `hcl:"retries,optional"`
	RetryDelay            *string `hcl:"retry_delay,optional"`
	Timeout               *string `hcl:"timeout,optional"`
	SkipAvailabilityCheck *bool   `hcl:"skip_availability_check,optional"`
	Naming                *string `hcl:"naming,optional"`
	LogLevel              *string `hcl:"log_level,optional"`
	LogFormat             *string `hcl:"log_format,optional"`
	MetricsAddr           *string `hcl:"metrics_addr,optional"`

	Tiling      *tilingBlock      `hcl:"tiling,block"`
	Acquisition *acquisitionBlock `hcl:"acquisition,block"`
	Sentinel    *sentinelBlock    `hcl:"sentinel,block"`
	Storage     *storageBlock     `hcl:"storage,block"`
}

type tilingBlock struct {
	Resolution    *float64 `hcl:"resolution,optional"`
	PatchSize     *int     `hcl:"patch_size,optional"`
	FixedSize     *float64 `hcl:"fixed_size,optional"`
	Buffer        *float64 `hcl:"buffer,optional"`
	AlignedOrigin *bool    `hcl:"aligned_origin,optional"`
}

type acquisitionBlock struct {
	Collection    *string   `hcl:"collection,optional"`
	Bands         *[]string `hcl:"bands,optional"`
	MaxCloudCover *float64  `hcl:"max_cloud_cover,optional"`
	Mosaicking    *string   `hcl:"mosaicking,optional"`
	Date          *string   `hcl:"date,optional"`
	Start         *string   `hcl:"start,optional"`
	End           *string   `hcl:"end,optional"`
	Months        *int      `hcl:"months,optional"`
}

type sentinelBlock struct {
	ClientID          *string  `hcl:"client_id,optional"`
	ClientSecret      *string  `hcl:"client_secret,optional"`
	TokenURL          *string  `hcl:"token_url,optional"`
	BaseURL           *string  `hcl:"base_url,optional"`
	RequestsPerSecond *float64 `hcl:"requests_per_second,optional"`
	MaxInFlight       *int     `hcl:"max_in_flight,optional"`
}

type storageBlock struct {
	Kind      *string `hcl:"kind,optional"`
	Bucket    *string `hcl:"bucket,optional"`
	Prefix    *string `hcl:"prefix,optional"`
	Region    *string `hcl:"region,optional"`
	Endpoint  *string `hcl:"endpoint,optional"`
	AccessKey *string `hcl:"access_key,optional"`
	SecretKey *string `hcl:"secret_key,optional"`
	PathStyle *bool   `hcl:"path_style,optional"`
}

// EnvFunc returns the value of an environment variable, or the optional
// second argument when the variable is unset.
var EnvFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
	},
	VarParam: &function.Parameter{Name: "default", Type: cty.String},
	Type:     function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		if v, ok := os.LookupEnv(args[0].AsString()); ok {
			return cty.StringVal(v), nil
		}
		switch len(args) {
		case 1:
			return cty.StringVal(""), nil
		case 2:
			return args[1], nil
		}
		return cty.NilVal, fmt.Errorf("env takes at most one default, got %d", len(args)-1)
	},
})

func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{
			"env": EnvFunc,
		},
	}
}

// Load reads an HCL file on top of the defaults.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := Default()
	if err := LoadInto(ctx, path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadInto reads an HCL file and applies the attributes it sets to cfg.
func LoadInto(ctx context.Context, path string, cfg *Config) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading config file.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return &DiagnosticsError{Path: path, Diags: diags}
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &root); diags.HasErrors() {
		return &DiagnosticsError{Path: path, Diags: diags}
	}
	if err := root.apply(cfg); err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}

	logger.Debug("Config file loaded.", "path", path)
	return nil
}

func (r *fileRoot) apply(c *Config) error {
	set(&c.AOI, r.AOI)
	set(&c.OutputDir, r.OutputDir)
	set(&c.LogDir, r.LogDir)
	set(&c.Workers, r.Workers)
	set(&c.Retries, r.Retries)
	set(&c.SkipAvailabilityCheck, r.SkipAvailabilityCheck)
	set(&c.Naming, r.Naming)
	set(&c.LogLevel, r.LogLevel)
	set(&c.LogFormat, r.LogFormat)
	set(&c.MetricsAddr, r.MetricsAddr)
	if err := setDuration(&c.RetryDelay, r.RetryDelay, "retry_delay"); err != nil {
		return err
	}
	if err := setDuration(&c.Timeout, r.Timeout, "timeout"); err != nil {
		return err
	}

	if t := r.Tiling; t != nil {
		set(&c.Tiling.Resolution, t.Resolution)
		set(&c.Tiling.PatchSize, t.PatchSize)
		set(&c.Tiling.FixedSize, t.FixedSize)
		set(&c.Tiling.AlignedOrigin, t.AlignedOrigin)
		if t.Buffer != nil {
			b := *t.Buffer
			c.Tiling.Buffer = &b
		}
	}
	if a := r.Acquisition; a != nil {
		set(&c.Acquisition.Collection, a.Collection)
		set(&c.Acquisition.Bands, a.Bands)
		set(&c.Acquisition.MaxCloudCover, a.MaxCloudCover)
		set(&c.Acquisition.Mosaicking, a.Mosaicking)
		set(&c.Acquisition.Date, a.Date)
		set(&c.Acquisition.Start, a.Start)
		set(&c.Acquisition.End, a.End)
		set(&c.Acquisition.Months, a.Months)
	}
	if s := r.Sentinel; s != nil {
		set(&c.Sentinel.ClientID, s.ClientID)
		set(&c.Sentinel.ClientSecret, s.ClientSecret)
		set(&c.Sentinel.TokenURL, s.TokenURL)
		set(&c.Sentinel.BaseURL, s.BaseURL)
		set(&c.Sentinel.RequestsPerSecond, s.RequestsPerSecond)
		set(&c.Sentinel.MaxInFlight, s.MaxInFlight)
	}
	if s := r.Storage; s != nil {
		set(&c.Storage.Kind, s.Kind)
		set(&c.Storage.Bucket, s.Bucket)
		set(&c.Storage.Prefix, s.Prefix)
		set(&c.Storage.Region, s.Region)
		set(&c.Storage.Endpoint, s.Endpoint)
		set(&c.Storage.AccessKey, s.AccessKey)
		set(&c.Storage.SecretKey, s.SecretKey)
		set(&c.Storage.PathStyle, s.PathStyle)
	}
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, name string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
