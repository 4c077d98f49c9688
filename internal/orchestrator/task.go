package orchestrator

import (
	"sync"
	"sync/atomic"

	"github.com/vk/patchgridgo/internal/job"
)

// State is the execution state of a job.
type State int32

const (
	// Pending indicates the job is queued and not yet picked up by a worker.
	Pending State = iota
	// Running indicates a worker is executing the job.
	Running
	// Succeeded indicates the patch was retrieved and persisted.
	Succeeded
	// Failed indicates a stage failed or the job was never started.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// task is the mutable envelope of one job inside a run. pos is the job's
// position in the submitted slice and the slot its outcome is written to.
type task struct {
	job job.AcquisitionJob
	pos int

	state      atomic.Int32
	finishOnce sync.Once
}

func (t *task) State() State {
	return State(t.state.Load())
}

// start moves the task from Pending to Running.
func (t *task) start() bool {
	return t.state.CompareAndSwap(int32(Pending), int32(Running))
}

// finish moves the task to a terminal state and runs fn exactly once. It
// reports whether this call was the one that finished the task.
func (t *task) finish(s State, wg *sync.WaitGroup, fn func()) bool {
	finished := false
	t.finishOnce.Do(func() {
		t.state.Store(int32(s))
		fn()
		wg.Done()
		finished = true
	})
	return finished
}
