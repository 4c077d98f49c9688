package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vk/patchgridgo/internal/app"
	"github.com/vk/patchgridgo/internal/availability"
	"github.com/vk/patchgridgo/internal/runlog"
)

// tileCmd returns the command that tiles the AOI and writes the tile index
// without contacting Sentinel Hub.
func tileCmd() *cobra.Command {
	var (
		opts      options
		indexPath string
	)
	cmd := &cobra.Command{
		Use:   "tile",
		Short: "Tile the area of interest and write the tile index",
		Long: `Tile the area of interest and write the tiles as a GeoJSON feature
collection. No imagery is requested.

Examples:
  patchgrid tile --aoi data/aoi.geojson --fixed-size 5120 --buffer 0`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			a := app.New(cmd.ErrOrStderr(), cfg)
			plan, err := a.Plan(cmd.Context())
			if err != nil {
				return err
			}
			if indexPath == "" {
				indexPath = filepath.Join(cfg.OutputDir, app.TileIndexFile)
			}
			if err := a.WriteTileIndex(cmd.Context(), plan, indexPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tiles in %d zone(s), side %g m, written to %s\n",
				len(plan.Tiling.Tiles), len(plan.Tiling.Zones), plan.SideLength, indexPath)
			return nil
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().StringVar(&indexPath, "index", "", "Tile index path (default: <out>/tiles.geojson)")
	return cmd
}

// validateCmd returns the command that checks imagery availability for every
// tile without downloading anything.
func validateCmd() *cobra.Command {
	var (
		opts   options
		latest int
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that every tile has imagery in the time window",
		Long: `Check that every tile has at least one acquisition in the time window.
With --latest, also print the most recent acquisitions of each tile.

Examples:
  patchgrid validate --config patchgrid.hcl
  patchgrid validate --aoi aoi.geojson --date 30-06-2024 --latest 2`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			if latest < 0 {
				return &ExitError{Code: exitUsage, Message: fmt.Sprintf("--latest must not be negative, got %d", latest)}
			}
			a := app.New(cmd.ErrOrStderr(), cfg)
			plan, err := a.Plan(cmd.Context())
			if err != nil {
				return err
			}

			var missing []int
			if latest > 0 {
				stamps, err := a.LatestAcquisitions(cmd.Context(), plan, latest)
				if err != nil {
					return err
				}
				missing = printLatest(cmd.OutOrStdout(), plan, stamps)
			} else {
				missing, err = a.CheckAvailability(cmd.Context(), plan)
				if err != nil {
					return err
				}
			}
			if len(missing) > 0 {
				return &availability.NoDataAvailableError{TileIndices: missing}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "All %d tiles have imagery.\n", len(plan.Tiling.Tiles))
			return nil
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().IntVar(&latest, "latest", 0, "Print the last N acquisitions of each tile")
	return cmd
}

// printLatest writes one line per tile with its acquisition dates and
// returns the indices of tiles that have none.
func printLatest(w io.Writer, plan *app.Plan, stamps map[int][]time.Time) []int {
	var missing []int
	for _, tile := range plan.Tiling.Tiles {
		got := stamps[tile.Index]
		if len(got) == 0 {
			missing = append(missing, tile.Index)
			fmt.Fprintf(w, "tile %d (%s r%d c%d): none\n", tile.Index, tile.Zone, tile.Row, tile.Col)
			continue
		}
		dates := make([]string, len(got))
		for i, ts := range got {
			dates[i] = ts.Format(time.DateOnly)
		}
		fmt.Fprintf(w, "tile %d (%s r%d c%d): %s\n", tile.Index, tile.Zone, tile.Row, tile.Col, strings.Join(dates, ", "))
	}
	return missing
}

// runCmd returns the command that executes the full pipeline.
func runCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Tile the AOI, check availability and download every patch",
		Long: `Run the whole pipeline: tile the area of interest, check that every tile
has imagery, then download and store one patch per tile in parallel.

Examples:
  # Use a configuration file and override the worker count
  patchgrid run --config patchgrid.hcl --workers 8

  # Everything from flags, month ending on a date
  patchgrid run --aoi aoi.geojson --date 30-06-2024 --out ./patches`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			a := app.New(cmd.ErrOrStderr(), cfg)
			report, err := a.Run(cmd.Context())
			if report != nil {
				printSummary(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	opts.bind(cmd.Flags())
	return cmd
}

// reportCmd returns the command that rebuilds the report of an earlier run
// from the job records in its log directory.
func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report RUN_DIR",
		Short: "Rebuild and print the report of an earlier run",
		Long: `Recompute summary.yaml and report.txt of a run from its job records and
print the report. Useful for runs that were interrupted before finishing.

Examples:
  patchgrid report logs/20240610T101112Z-1a2b3c4d`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := runlog.Load(args[0])
			if err != nil {
				return err
			}
			path, err := store.Rebuild()
			if err != nil {
				return err
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read report: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

// versionCmd returns the version command.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  noArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "patchgrid %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
