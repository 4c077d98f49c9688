package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage names the step of a job that failed.
type Stage string

const (
	// StageSchedule marks jobs that never started because the run was
	// cancelled first.
	StageSchedule Stage = "schedule"
	StageRetrieve Stage = "retrieve"
	StagePersist  Stage = "persist"
)

// JobError is the failure of a single job. It never aborts sibling jobs.
type JobError struct {
	TileIndex int
	Stage     Stage
	Err       error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("tile %d: %s failed: %v", e.TileIndex, e.Stage, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// RunFailureError is returned once every job is terminal and at least one
// failed. The patches of successful jobs stay persisted.
type RunFailureError struct {
	FailedTileIndices []int
	ReportPath        string
}

func (e *RunFailureError) Error() string {
	ids := make([]string, len(e.FailedTileIndices))
	for i, idx := range e.FailedTileIndices {
		ids[i] = strconv.Itoa(idx)
	}
	return fmt.Sprintf("execution failed for tiles [%s]; for more info check the report at %s",
		strings.Join(ids, ", "), e.ReportPath)
}
