package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/vk/patchgridgo/internal/availability"
	"github.com/vk/patchgridgo/internal/config"
	"github.com/vk/patchgridgo/internal/orchestrator"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

const (
	exitFailure = 1
	exitUsage   = 2
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo sets the version information from main.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the command line and returns nil or an *ExitError.
func Execute(ctx context.Context, args []string, outW, errW io.Writer) error {
	slog.Debug("CLI parser started.")
	cmd := Root(outW, errW)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return toExitError(err)
	}
	return nil
}

// Root returns the root command for the patchgrid CLI.
func Root(outW, errW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patchgrid",
		Short: "Tile an area of interest and download Sentinel-2 patches",
		Long: `patchgrid splits an area of interest into a UTM grid of square tiles,
checks that every tile has a Sentinel-2 acquisition in the requested time
window, and downloads one patch per tile in parallel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(outW)
	cmd.SetErr(errW)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: exitUsage, Message: err.Error()}
	})

	cmd.AddCommand(tileCmd())
	cmd.AddCommand(validateCmd())
	cmd.AddCommand(runCmd())
	cmd.AddCommand(reportCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

// toExitError maps an error to the exit code of the process.
func toExitError(err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}

	var (
		diagErr  *config.DiagnosticsError
		noData   *availability.NoDataAvailableError
		runFail  *orchestrator.RunFailureError
		exitCode = exitFailure
	)
	switch {
	case errors.Is(err, config.ErrInvalidConfig), errors.As(err, &diagErr):
		exitCode = exitUsage
	case errors.As(err, &noData), errors.As(err, &runFail):
		exitCode = exitFailure
	}
	return &ExitError{Code: exitCode, Message: err.Error()}
}
