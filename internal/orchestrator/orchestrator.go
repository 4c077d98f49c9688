// Package orchestrator runs acquisition jobs on a bounded worker pool. Each
// job retrieves one patch and persists it; every job ends in exactly one
// outcome and failures never stop sibling jobs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vk/patchgridgo/internal/ctxlog"
	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/job"
	"github.com/vk/patchgridgo/internal/metrics"
	"github.com/vk/patchgridgo/internal/retry"
	"github.com/vk/patchgridgo/internal/runlog"
)

const defaultLogRoot = "logs"

// RequestSpec carries the retrieval parameters shared by every job.
type RequestSpec struct {
	Bands         []string
	MaxCloudCover float64
	Mosaicking    imagery.Mosaicking
	Resolution    float64
}

// Orchestrator drives the retrieve and persist stages of a batch of jobs.
type Orchestrator struct {
	retriever imagery.Retriever
	sink      imagery.Sink
	workers   int
	retry     *retry.Policy
	spec      RequestSpec
	metrics   *metrics.Metrics
	store     *runlog.Store
	logRoot   string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the pool size. Values below one are treated as one.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.workers = n
	}
}

// WithRetry retries a failed job under the policy. The job still yields a
// single outcome.
func WithRetry(p retry.Policy) Option {
	return func(o *Orchestrator) { o.retry = &p }
}

// WithRequestSpec sets the retrieval parameters of every job.
func WithRequestSpec(s RequestSpec) Option {
	return func(o *Orchestrator) { o.spec = s }
}

// WithMetrics records job counts, stage durations and retries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStore writes the run log into an already opened store.
func WithStore(s *runlog.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithLogRoot opens a new run log directory under root for every run. It is
// ignored when WithStore is given.
func WithLogRoot(root string) Option {
	return func(o *Orchestrator) { o.logRoot = root }
}

// New creates an Orchestrator.
func New(retriever imagery.Retriever, sink imagery.Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever: retriever,
		sink:      sink,
		workers:   1,
		logRoot:   defaultLogRoot,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes every job and returns the report. If any job failed the
// report comes with a *RunFailureError.
func (o *Orchestrator) Run(ctx context.Context, jobs []job.AcquisitionJob) (*RunReport, error) {
	store := o.store
	if store == nil {
		var err error
		if store, err = runlog.Open(o.logRoot); err != nil {
			return nil, fmt.Errorf("failed to open run log: %w", err)
		}
	}

	logger := ctxlog.FromContext(ctx).With("run_id", store.RunID())
	ctx = ctxlog.WithLogger(ctx, logger)

	report := &RunReport{
		RunID:     store.RunID(),
		LogDir:    store.Dir(),
		Workers:   o.workers,
		StartedAt: time.Now(),
	}
	outcomes := make([]Outcome, len(jobs))

	var wg sync.WaitGroup
	readyChan := make(chan *task, len(jobs))
	for i, j := range jobs {
		readyChan <- &task{job: j, pos: i}
	}
	close(readyChan)
	wg.Add(len(jobs))

	logger.Info("🚀 Starting acquisition.", "jobs", len(jobs), "workers", o.workers, "log_dir", store.Dir())
	for w := 0; w < o.workers; w++ {
		go o.worker(ctx, w, readyChan, &wg, store, outcomes)
	}
	wg.Wait()

	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].TileIndex < outcomes[j].TileIndex })
	report.Outcomes = outcomes
	report.FinishedAt = time.Now()

	byTile := make(map[int]job.AcquisitionJob, len(jobs))
	for _, j := range jobs {
		byTile[j.Tile.Index] = j
	}
	records := make([]runlog.JobRecord, len(outcomes))
	for i, out := range outcomes {
		records[i] = recordFor(byTile[out.TileIndex], out)
	}
	failed := report.FailedTileIndices()
	path, err := store.Finish(report.summary(), records)
	if err != nil {
		err = fmt.Errorf("failed to write run report: %w", err)
		logger.Error("Failed to write run report.", "error", err)
		if len(failed) > 0 {
			err = errors.Join(&RunFailureError{FailedTileIndices: failed, ReportPath: store.ReportPath()}, err)
		}
		return report, err
	}
	report.ReportPath = path

	logger.Info("🏁 Acquisition finished.", "succeeded", report.Succeeded(), "failed", len(failed), "report", path)
	if len(failed) > 0 {
		return report, &RunFailureError{FailedTileIndices: failed, ReportPath: path}
	}
	return report, nil
}

// worker is the processing loop of one pool member.
func (o *Orchestrator) worker(ctx context.Context, id int, readyChan <-chan *task, wg *sync.WaitGroup, store *runlog.Store, outcomes []Outcome) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "worker", id)

	for t := range readyChan {
		j := t.job
		jobLogger := logger.With("worker", id, "job", j.Name, "tile", j.Tile.Index)

		out := Outcome{TileIndex: j.Tile.Index, Name: j.Name, Worker: id, StartedAt: time.Now()}

		if err := ctx.Err(); err != nil {
			out.FinishedAt = out.StartedAt
			out.State = Failed
			out.Err = &JobError{TileIndex: j.Tile.Index, Stage: StageSchedule, Err: err}
			t.finish(Failed, wg, func() { o.complete(jobLogger, store, t, out, outcomes) })
			continue
		}

		t.start()
		jobLogger.Debug("Worker picked up job.", "zone", j.Tile.Zone.String())
		done := o.metrics.JobStarted()
		attempts, err := o.execute(ctx, jobLogger, j)
		done()

		out.Attempts = attempts
		out.FinishedAt = time.Now()
		state := Succeeded
		if err != nil {
			state = Failed
			out.Err = err
		}
		out.State = state
		t.finish(state, wg, func() { o.complete(jobLogger, store, t, out, outcomes) })
	}
	logger.Debug("Worker finished.", "worker", id)
}

// complete stores the outcome in the task's slot and appends the job record.
func (o *Orchestrator) complete(logger *slog.Logger, store *runlog.Store, t *task, out Outcome, outcomes []Outcome) {
	outcomes[t.pos] = out
	o.metrics.RecordJob(out.State.String())

	if out.Err != nil {
		logger.Error("Job failed.", "stage", string(out.Stage()), "error", out.Err)
	} else {
		logger.Info("Job succeeded.", "attempts", out.Attempts, "duration", out.FinishedAt.Sub(out.StartedAt))
	}

	if err := store.RecordJob(recordFor(t.job, out)); err != nil {
		logger.Warn("Failed to write job record.", "error", err)
	}
}

// execute runs both stages, under the retry policy when one is configured.
func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, j job.AcquisitionJob) (int, error) {
	if o.retry == nil {
		return 1, o.attempt(ctx, j)
	}

	policy := *o.retry
	hook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		o.metrics.RecordRetry()
		logger.Warn("Retrying job.", "attempt", attempt, "error", err)
		if hook != nil {
			hook(attempt, err)
		}
	}

	var last error
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		last = o.attempt(ctx, j)
		return last
	})
	if err != nil && last != nil {
		// Keep the *JobError of the last attempt as the outcome cause.
		return attempts, last
	}
	return attempts, err
}

// attempt retrieves and persists the patch once. Panics in a collaborator
// are turned into a failure of the running stage.
func (o *Orchestrator) attempt(ctx context.Context, j job.AcquisitionJob) (err error) {
	stage := StageRetrieve
	defer func() {
		if r := recover(); r != nil {
			err = &JobError{TileIndex: j.Tile.Index, Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	start := time.Now()
	raster, err := o.retriever.Retrieve(ctx, o.request(j))
	if err == nil {
		err = raster.Validate()
	}
	o.metrics.ObserveStage(string(StageRetrieve), time.Since(start))
	if err != nil {
		return &JobError{TileIndex: j.Tile.Index, Stage: StageRetrieve, Err: err}
	}

	stage = StagePersist
	start = time.Now()
	err = o.sink.Save(ctx, j.Name, raster)
	o.metrics.ObserveStage(string(StagePersist), time.Since(start))
	if err != nil {
		return &JobError{TileIndex: j.Tile.Index, Stage: StagePersist, Err: err}
	}
	return nil
}

func (o *Orchestrator) request(j job.AcquisitionJob) imagery.Request {
	return imagery.Request{
		Bounds:        j.Tile.Bounds,
		CRS:           j.Tile.CRS(),
		Window:        j.Window,
		Bands:         o.spec.Bands,
		MaxCloudCover: o.spec.MaxCloudCover,
		Mosaicking:    o.spec.Mosaicking,
		Resolution:    o.spec.Resolution,
	}
}

func recordFor(j job.AcquisitionJob, out Outcome) runlog.JobRecord {
	b := j.Tile.Bounds
	rec := runlog.JobRecord{
		TileIndex:  out.TileIndex,
		Name:       out.Name,
		Zone:       j.Tile.Zone.String(),
		Row:        j.Tile.Row,
		Col:        j.Tile.Col,
		Bounds:     [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()},
		Window:     j.Window.String(),
		Status:     runlog.StatusSucceeded,
		Attempts:   out.Attempts,
		Worker:     out.Worker,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	}
	if out.Err != nil {
		rec.Status = runlog.StatusFailed
		rec.Stage = string(out.Stage())
		rec.Error = out.Err.Error()
	}
	return rec
}
