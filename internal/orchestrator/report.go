package orchestrator

import (
	"errors"
	"time"

	"github.com/vk/patchgridgo/internal/runlog"
)

// Outcome is the terminal result of one job.
type Outcome struct {
	TileIndex int
	Name      string
	State     State
	// Err is a *JobError when State is Failed, nil otherwise.
	Err        error
	Attempts   int
	Worker     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the job persisted its patch.
func (o Outcome) Succeeded() bool {
	return o.State == Succeeded
}

// Stage returns the failed stage, or "" for a successful job.
func (o Outcome) Stage() Stage {
	var jobErr *JobError
	if errors.As(o.Err, &jobErr) {
		return jobErr.Stage
	}
	return ""
}

// RunReport aggregates the outcomes of a run. Outcomes are ordered by tile
// index whatever order the jobs completed in.
type RunReport struct {
	RunID      string
	LogDir     string
	ReportPath string
	Workers    int
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
}

// FailedTileIndices lists the tiles whose job failed, ascending.
func (r *RunReport) FailedTileIndices() []int {
	var out []int
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			out = append(out, o.TileIndex)
		}
	}
	return out
}

// Succeeded returns the number of successful jobs.
func (r *RunReport) Succeeded() int {
	return len(r.Outcomes) - len(r.FailedTileIndices())
}

// Failed returns the number of failed jobs.
func (r *RunReport) Failed() int {
	return len(r.FailedTileIndices())
}

func (r *RunReport) summary() runlog.Summary {
	return runlog.Summary{
		RunID:             r.RunID,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
		Workers:           r.Workers,
		Total:             len(r.Outcomes),
		Succeeded:         r.Succeeded(),
		Failed:            r.Failed(),
		FailedTileIndices: r.FailedTileIndices(),
	}
}
