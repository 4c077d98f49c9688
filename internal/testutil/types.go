package testutil

import (
	"sync"
	"time"
)

// ExecutionRecord holds the start and end times of one call into a fake.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Recorder collects execution records keyed by name.
type Recorder struct {
	mu      sync.Mutex
	records map[string]ExecutionRecord
}

func (r *Recorder) record(name string, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records == nil {
		r.records = make(map[string]ExecutionRecord)
	}
	r.records[name] = ExecutionRecord{Start: start, End: end}
}

// Records returns a copy of the collected records.
func (r *Recorder) Records() map[string]ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ExecutionRecord, len(r.records))
	for k, v := range r.records {
		out[k] = v
	}
	return out
}

// MaxOverlap returns the largest number of records whose intervals overlap
// at a single instant.
func (r *Recorder) MaxOverlap() int {
	recs := r.Records()
	best := 0
	for _, a := range recs {
		n := 0
		for _, b := range recs {
			if !b.Start.After(a.Start) && b.End.After(a.Start) {
				n++
			}
		}
		if n > best {
			best = n
		}
	}
	return best
}
