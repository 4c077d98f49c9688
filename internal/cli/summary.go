package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/vk/patchgridgo/internal/orchestrator"
)

var (
	colorGreen = lipgloss.Color("#22c55e")
	colorRed   = lipgloss.Color("#ef4444")
	colorDim   = lipgloss.Color("#6b7280")
)

// printSummary writes the outcome of a run. Colors are only used on a
// terminal.
func printSummary(w io.Writer, report *orchestrator.RunReport) {
	r := lipgloss.NewRenderer(w)
	if !isTerminal(w) {
		r.SetColorProfile(termenv.Ascii)
	}
	title := r.NewStyle().Bold(true)
	ok := r.NewStyle().Foreground(colorGreen)
	bad := r.NewStyle().Foreground(colorRed)
	dim := r.NewStyle().Foreground(colorDim)

	var b strings.Builder
	fmt.Fprintln(&b, title.Render("Run "+report.RunID))
	fmt.Fprintf(&b, "  %s %d\n", ok.Render("succeeded:"), report.Succeeded())
	if failed := report.FailedTileIndices(); len(failed) > 0 {
		ids := make([]string, len(failed))
		for i, idx := range failed {
			ids[i] = strconv.Itoa(idx)
		}
		fmt.Fprintf(&b, "  %s %d [%s]\n", bad.Render("failed:"), len(failed), strings.Join(ids, ", "))
	} else {
		fmt.Fprintf(&b, "  %s 0\n", dim.Render("failed:"))
	}
	fmt.Fprintf(&b, "  %s %s\n", dim.Render("duration:"), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if report.ReportPath != "" {
		fmt.Fprintf(&b, "  %s %s\n", dim.Render("report:"), report.ReportPath)
	}
	fmt.Fprint(w, b.String())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
