package runlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// RenderReport formats the run as plain text: a header with the counts and
// the failed tiles, then one table row per job.
func RenderReport(sum Summary, records []JobRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s\n", sum.RunID)
	b.WriteString(strings.Repeat("=", 4+len(sum.RunID)) + "\n\n")
	fmt.Fprintf(&b, "Started:   %s\n", sum.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished:  %s\n", sum.FinishedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration:  %s\n", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "Workers:   %d\n", sum.Workers)
	fmt.Fprintf(&b, "Jobs:      %d total, %d succeeded, %d failed\n", sum.Total, sum.Succeeded, sum.Failed)
	if len(sum.FailedTileIndices) > 0 {
		ids := make([]string, len(sum.FailedTileIndices))
		for i, idx := range sum.FailedTileIndices {
			ids[i] = strconv.Itoa(idx)
		}
		fmt.Fprintf(&b, "Failed:    %s\n", strings.Join(ids, ", "))
	}
	b.WriteString("\n")

	if len(records) == 0 {
		b.WriteString("No jobs were run.\n")
		return b.String()
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		detail := ""
		if r.Status == StatusFailed {
			detail = r.Stage + ": " + r.Error
		}
		rows = append(rows, []string{
			strconv.Itoa(r.TileIndex),
			r.Name,
			r.Zone,
			fmt.Sprintf("%d/%d", r.Row, r.Col),
			string(r.Status),
			strconv.Itoa(r.Attempts),
			r.Duration().Round(time.Millisecond).String(),
			detail,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TILE", "NAME", "ZONE", "ROW/COL", "STATUS", "ATTEMPTS", "DURATION", "ERROR").
		Rows(rows...)
	b.WriteString(t.String())
	b.WriteString("\n")
	return b.String()
}
