// Package runlog persists the log directory of an acquisition run: one YAML
// record per job, a YAML summary, a human-readable report and the JSON
// execution log.
package runlog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/patchgridgo/internal/job"
	"gopkg.in/yaml.v3"
)

const (
	jobsDirName      = "jobs"
	reportFileName   = "report.txt"
	summaryFileName  = "summary.yaml"
	executionLogName = "execution.log"
)

// Status is the terminal state of a job.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// JobRecord is the persisted outcome of one job.
type JobRecord struct {
	TileIndex  int        `yaml:"tile_index"`
	Name       string     `yaml:"name"`
	Zone       string     `yaml:"zone"`
	Row        int        `yaml:"row"`
	Col        int        `yaml:"col"`
	Bounds     [4]float64 `yaml:"bounds,flow"`
	Window     string     `yaml:"window"`
	Status     Status     `yaml:"status"`
	Stage      string     `yaml:"stage,omitempty"`
	Error      string     `yaml:"error,omitempty"`
	Attempts   int        `yaml:"attempts"`
	Worker     int        `yaml:"worker"`
	StartedAt  time.Time  `yaml:"started_at"`
	FinishedAt time.Time  `yaml:"finished_at"`
}

// Duration returns how long the job ran.
func (r JobRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary is the aggregate of a finished run.
type Summary struct {
	RunID             string    `yaml:"run_id"`
	StartedAt         time.Time `yaml:"started_at"`
	FinishedAt        time.Time `yaml:"finished_at"`
	Workers           int       `yaml:"workers"`
	Total             int       `yaml:"total"`
	Succeeded         int       `yaml:"succeeded"`
	Failed            int       `yaml:"failed"`
	FailedTileIndices []int     `yaml:"failed_tile_indices,flow"`
}

// OpError describes a failed filesystem operation of the store.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("runlog %s (path=%s): %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Store is the log directory of one run. It is safe for concurrent use.
type Store struct {
	dir   string
	runID string
	now   func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Store) { s.runID = id }
}

// WithNow is useful for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates <root>/<run-id>/ with its jobs directory. The generated run id
// is the UTC start time followed by a short random suffix, so run
// directories sort chronologically.
func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = s.now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	}
	s.dir = filepath.Join(root, s.runID)

	jobsDir := filepath.Join(s.dir, jobsDirName)
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		return nil, &OpError{Op: "mkdir", Path: jobsDir, Err: err}
	}
	return s, nil
}

// Load opens the log directory of an earlier run. The run id is the
// directory name.
func Load(dir string) (*Store, error) {
	dir = filepath.Clean(dir)
	jobsDir := filepath.Join(dir, jobsDirName)
	if _, err := os.Stat(jobsDir); err != nil {
		return nil, &OpError{Op: "stat", Path: jobsDir, Err: err}
	}
	return &Store{dir: dir, runID: filepath.Base(dir), now: time.Now}, nil
}

// RunID returns the id of the run.
func (s *Store) RunID() string { return s.runID }

// Dir returns the run log directory.
func (s *Store) Dir() string { return s.dir }

// ReportPath returns the path of the human-readable report.
func (s *Store) ReportPath() string { return filepath.Join(s.dir, reportFileName) }

// ExecutionLog opens execution.log for appending.
func (s *Store) ExecutionLog() (io.WriteCloser, error) {
	path := filepath.Join(s.dir, executionLogName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &OpError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

// RecordJob writes jobs/<name>.yaml.
func (s *Store) RecordJob(rec JobRecord) error {
	b, err := yaml.Marshal(rec)
	if err != nil {
		return &OpError{Op: "marshal", Path: rec.Name, Err: err}
	}
	path := filepath.Join(s.dir, jobsDirName, job.FileName(rec.Name)+".yaml")

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(path, b)
}

// Records reads every job record back, ordered by tile index.
func (s *Store) Records() ([]JobRecord, error) {
	dir := filepath.Join(s.dir, jobsDirName)

	s.mu.Lock()
	entries, err := os.ReadDir(dir)
	s.mu.Unlock()
	if err != nil {
		return nil, &OpError{Op: "readdir", Path: dir, Err: err}
	}

	var out []JobRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, &OpError{Op: "read", Path: path, Err: err}
		}
		var rec JobRecord
		if err := yaml.Unmarshal(b, &rec); err != nil {
			return nil, &OpError{Op: "unmarshal", Path: path, Err: err}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TileIndex < out[j].TileIndex })
	return out, nil
}

// Finish writes summary.yaml and report.txt. Records must be ordered by tile
// index. It returns the report path.
func (s *Store) Finish(sum Summary, records []JobRecord) (string, error) {
	sum.RunID = s.runID
	b, err := yaml.Marshal(sum)
	if err != nil {
		return "", &OpError{Op: "marshal", Path: summaryFileName, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(filepath.Join(s.dir, summaryFileName), b); err != nil {
		return "", err
	}
	path := s.ReportPath()
	if err := writeAtomic(path, []byte(RenderReport(sum, records))); err != nil {
		return "", err
	}
	return path, nil
}

// Rebuild rewrites summary.yaml and report.txt from the job records on disk
// and returns the report path. The start time and worker count of an existing
// summary are kept, so a run interrupted before Finish still gets a report.
func (s *Store) Rebuild() (string, error) {
	records, err := s.Records()
	if err != nil {
		return "", err
	}
	var prev Summary
	path := filepath.Join(s.dir, summaryFileName)
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &prev); err != nil {
			return "", &OpError{Op: "unmarshal", Path: path, Err: err}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", &OpError{Op: "read", Path: path, Err: err}
	}
	return s.Finish(Summarize(prev, records), records)
}

// Summarize recomputes the counts of sum from records. Zero start and finish
// times are taken from the earliest and latest record.
func Summarize(sum Summary, records []JobRecord) Summary {
	sum.Total = len(records)
	sum.Succeeded, sum.Failed, sum.FailedTileIndices = 0, 0, nil
	var first, last time.Time
	for _, r := range records {
		if r.Status == StatusFailed {
			sum.Failed++
			sum.FailedTileIndices = append(sum.FailedTileIndices, r.TileIndex)
		} else {
			sum.Succeeded++
		}
		if first.IsZero() || r.StartedAt.Before(first) {
			first = r.StartedAt
		}
		if r.FinishedAt.After(last) {
			last = r.FinishedAt
		}
	}
	sort.Ints(sum.FailedTileIndices)
	if sum.StartedAt.IsZero() {
		sum.StartedAt = first
	}
	if sum.FinishedAt.IsZero() {
		sum.FinishedAt = last
	}
	return sum
}

// writeAtomic writes to a temporary file and renames it into place.
func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return &OpError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &OpError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
