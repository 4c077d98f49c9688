package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchgridgo/internal/app"
	"github.com/vk/patchgridgo/internal/availability"
	"github.com/vk/patchgridgo/internal/config"
	"github.com/vk/patchgridgo/internal/geo"
	"github.com/vk/patchgridgo/internal/orchestrator"
	"github.com/vk/patchgridgo/internal/runlog"
	"github.com/vk/patchgridgo/internal/testutil"
	"github.com/vk/patchgridgo/internal/tiler"
)

const aoiJSON = `{"type": "Polygon", "coordinates": [[[14.00,46.00],[14.05,46.00],[14.05,46.04],[14.00,46.04],[14.00,46.00]]]}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	err := Execute(context.Background(), args, out, &bytes.Buffer{})
	return out.String(), err
}

func TestExecute_Version(t *testing.T) {
	// Arrange
	SetVersionInfo("1.2.3", "abc", "today")
	t.Cleanup(func() { SetVersionInfo("dev", "none", "unknown") })

	// Act
	out, err := execute(t, "version")

	// Assert
	require.NoError(t, err)
	assert.Contains(t, out, "patchgrid 1.2.3")
	assert.Contains(t, out, "commit: abc")
}

func TestExecute_UsageErrors(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"tile", "--this-is-not-a-valid-flag"}},
		{name: "positional argument", args: []string{"tile", "extra"}},
		{name: "invalid config", args: []string{"tile", "--aoi", "a.geojson", "--workers", "0"}},
		{name: "missing aoi", args: []string{"tile"}},
		{name: "bad mosaicking", args: []string{"validate", "--aoi", "a.geojson", "--mosaicking", "random"}},
		{name: "negative latest", args: []string{"validate", "--aoi", "a.geojson", "--latest", "-1"}},
		{name: "report without run dir", args: []string{"report"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Act
			_, err := execute(t, tc.args...)

			// Assert
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, exitUsage, exitErr.Code)
		})
	}
}

func TestExecute_TileWritesIndex(t *testing.T) {
	// Arrange
	dir := testutil.WriteFiles(t, map[string]string{"aoi.geojson": aoiJSON})
	out := filepath.Join(dir, "out")

	// Act
	stdout, err := execute(t, "tile",
		"--aoi", filepath.Join(dir, "aoi.geojson"),
		"--out", out,
		"--fixed-size", "2000",
		"--buffer", "0",
		"--log-level", "error",
	)

	// Assert
	require.NoError(t, err)
	assert.Contains(t, stdout, "tiles in 1 zone(s), side 2000 m")
	assert.FileExists(t, filepath.Join(out, "tiles.geojson"))
}

func TestExecute_RunWithoutCredentialsFails(t *testing.T) {
	// Arrange
	dir := testutil.WriteFiles(t, map[string]string{"aoi.geojson": aoiJSON})

	// Act
	_, err := execute(t, "run",
		"--aoi", filepath.Join(dir, "aoi.geojson"),
		"--out", filepath.Join(dir, "out"),
		"--fixed-size", "2000",
		"--log-level", "error",
	)

	// Assert
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, exitFailure, exitErr.Code)
	assert.Contains(t, exitErr.Message, "client id and secret")
}

func TestExecute_ReportRebuildsFromRecords(t *testing.T) {
	// Arrange
	root := t.TempDir()
	store, err := runlog.Open(root, runlog.WithRunID("run-9"))
	require.NoError(t, err)
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, status := range []runlog.Status{runlog.StatusSucceeded, runlog.StatusFailed} {
		require.NoError(t, store.RecordJob(runlog.JobRecord{
			TileIndex:  i,
			Name:       fmt.Sprintf("patch_%d", i),
			Zone:       "33N",
			Status:     status,
			StartedAt:  started,
			FinishedAt: started.Add(time.Second),
		}))
	}

	// Act
	stdout, err := execute(t, "report", store.Dir())

	// Assert
	require.NoError(t, err)
	assert.Contains(t, stdout, "Run run-9")
	assert.Contains(t, stdout, "Jobs:      2 total, 1 succeeded, 1 failed")
	assert.FileExists(t, filepath.Join(store.Dir(), "summary.yaml"))
}

func TestExecute_ReportMissingRunDir(t *testing.T) {
	// Act
	_, err := execute(t, "report", filepath.Join(t.TempDir(), "missing"))

	// Assert
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, exitFailure, exitErr.Code)
}

func TestOptions_FlagsOverrideConfigFile(t *testing.T) {
	// Arrange
	dir := testutil.WriteFiles(t, map[string]string{
		"run.hcl": testutil.Unindent(`
			aoi     = "from-file.geojson"
			workers = 2
			retries = 1

			tiling {
			  fixed_size = 1000
			}
			acquisition {
			  start = "01-05-2024"
			  end   = "31-05-2024"
			}
		`),
	})
	cmd := &cobra.Command{Use: "run"}
	cmd.SetContext(context.Background())
	var opts options
	opts.bind(cmd.Flags())
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", filepath.Join(dir, "run.hcl"),
		"--workers", "8",
		"--date", "30-06-2024",
		"--buffer", "0",
	}))

	// Act
	cfg, err := opts.resolve(cmd)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "from-file.geojson", cfg.AOI)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 1, cfg.Retries)
	assert.Equal(t, 1000.0, cfg.Tiling.FixedSize)
	require.NotNil(t, cfg.Tiling.Buffer)
	assert.Zero(t, *cfg.Tiling.Buffer)
	assert.Equal(t, "30-06-2024", cfg.Acquisition.Date)
	assert.Empty(t, cfg.Acquisition.Start)
	assert.Equal(t, config.Default().Acquisition.Bands, cfg.Acquisition.Bands)
}

func TestToExitError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		code int
	}{
		{name: "invalid config", err: fmt.Errorf("%w: workers", config.ErrInvalidConfig), code: exitUsage},
		{name: "diagnostics", err: &config.DiagnosticsError{Path: "x.hcl"}, code: exitUsage},
		{name: "no data", err: &availability.NoDataAvailableError{TileIndices: []int{1}}, code: exitFailure},
		{name: "run failure", err: &orchestrator.RunFailureError{FailedTileIndices: []int{2}}, code: exitFailure},
		{name: "other", err: errors.New("boom"), code: exitFailure},
		{name: "exit error", err: &ExitError{Code: 7, Message: "custom"}, code: 7},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Act
			exitErr := toExitError(tc.err)

			// Assert
			assert.Equal(t, tc.code, exitErr.Code)
		})
	}
}

func TestPrintSummary_Plain(t *testing.T) {
	// Arrange
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	report := &orchestrator.RunReport{
		RunID:      "run-1",
		ReportPath: "/tmp/logs/run-1/report.txt",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Outcomes: []orchestrator.Outcome{
			{TileIndex: 0, State: orchestrator.Succeeded},
			{TileIndex: 1, State: orchestrator.Failed},
			{TileIndex: 2, State: orchestrator.Failed},
		},
	}
	buf := &bytes.Buffer{}

	// Act
	printSummary(buf, report)

	// Assert
	out := buf.String()
	assert.Contains(t, out, "Run run-1")
	assert.Contains(t, out, "succeeded: 1")
	assert.Contains(t, out, "failed: 2 [1, 2]")
	assert.Contains(t, out, "duration: 1.5s")
	assert.Contains(t, out, "report: /tmp/logs/run-1/report.txt")
	assert.NotContains(t, out, "\x1b[")
}

func TestPrintLatest(t *testing.T) {
	// Arrange
	day := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	plan := &app.Plan{Tiling: &tiler.Tiling{Tiles: []tiler.Tile{
		{Index: 0, Zone: geo.Zone{Number: 33}, Row: 0, Col: 0},
		{Index: 1, Zone: geo.Zone{Number: 33}, Row: 0, Col: 1},
	}}}
	stamps := map[int][]time.Time{
		0: {day.AddDate(0, 0, -5), day},
	}
	buf := &bytes.Buffer{}

	// Act
	missing := printLatest(buf, plan, stamps)

	// Assert
	assert.Equal(t, []int{1}, missing)
	assert.Equal(t, "tile 0 (33N r0 c0): 2024-06-10, 2024-06-15\ntile 1 (33N r0 c1): none\n", buf.String())
}

func TestIsTerminal_NonFile(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, isTerminal(f))
}
