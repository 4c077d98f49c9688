package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/vk/patchgridgo/internal/imagery"
)

// ErrInjected is the error returned by fakes when a failure is scripted.
var ErrInjected = errors.New("injected failure")

// Catalog is a scripted imagery.Catalog. Every query gets the configured
// timestamps unless its bounds were marked empty or failing.
type Catalog struct {
	mu      sync.Mutex
	stamps  []time.Time
	empty   map[orb.Bound]bool
	failing map[orb.Bound]error
	queries []imagery.CatalogQuery
}

// NewCatalog returns a catalog that answers every query with stamps.
func NewCatalog(stamps ...time.Time) *Catalog {
	return &Catalog{
		stamps:  stamps,
		empty:   make(map[orb.Bound]bool),
		failing: make(map[orb.Bound]error),
	}
}

// SetEmpty makes queries for the bounds return no timestamps.
func (c *Catalog) SetEmpty(bounds ...orb.Bound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range bounds {
		c.empty[b] = true
	}
}

// SetError makes queries for b fail with err.
func (c *Catalog) SetError(b orb.Bound, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[b] = err
}

// Timestamps implements imagery.Catalog.
func (c *Catalog) Timestamps(ctx context.Context, q imagery.CatalogQuery) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, q)
	if err, ok := c.failing[q.Bounds]; ok {
		return nil, err
	}
	if c.empty[q.Bounds] {
		return nil, nil
	}
	out := make([]time.Time, 0, len(c.stamps))
	for _, s := range c.stamps {
		if q.Window.Contains(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Queries returns the queries received so far.
func (c *Catalog) Queries() []imagery.CatalogQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]imagery.CatalogQuery(nil), c.queries...)
}

// Retriever is a scripted imagery.Retriever producing small constant rasters
// after a random delay of up to MaxLatency.
type Retriever struct {
	Recorder

	Width      int
	Height     int
	MaxLatency time.Duration

	mu       sync.Mutex
	failures map[orb.Bound]int
	calls    map[orb.Bound]int
}

// NewRetriever returns a retriever producing 4x4 rasters.
func NewRetriever() *Retriever {
	return &Retriever{
		Width:    4,
		Height:   4,
		failures: make(map[orb.Bound]int),
		calls:    make(map[orb.Bound]int),
	}
}

// FailFor makes the next n retrievals of b fail. A negative n fails forever.
func (r *Retriever) FailFor(b orb.Bound, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[b] = n
}

// Calls returns how many times b was requested.
func (r *Retriever) Calls(b orb.Bound) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[b]
}

// TotalCalls returns the number of Retrieve calls.
func (r *Retriever) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

// Retrieve implements imagery.Retriever.
func (r *Retriever) Retrieve(ctx context.Context, req imagery.Request) (*imagery.Raster, error) {
	start := time.Now()
	defer func() { r.record(boundsKey(req.Bounds), start, time.Now()) }()

	r.mu.Lock()
	r.calls[req.Bounds]++
	fail := false
	if n, ok := r.failures[req.Bounds]; ok && n != 0 {
		fail = true
		if n > 0 {
			r.failures[req.Bounds] = n - 1
		}
	}
	r.mu.Unlock()

	if err := sleep(ctx, r.MaxLatency); err != nil {
		return nil, err
	}
	if fail {
		return nil, fmt.Errorf("retrieve %s: %w", boundsKey(req.Bounds), ErrInjected)
	}

	raster := imagery.NewRaster(r.Width, r.Height, req.Bands)
	raster.Bounds = req.Bounds
	raster.CRS = req.CRS
	for i := range raster.Data {
		raster.Data[i] = 0.25
	}
	for i := range raster.Mask {
		raster.Mask[i] = true
	}
	return raster, nil
}

// Sink is an in-memory imagery.Sink.
type Sink struct {
	Recorder

	MaxLatency time.Duration

	mu      sync.Mutex
	saved   map[string]*imagery.Raster
	failing map[string]bool
}

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{
		saved:   make(map[string]*imagery.Raster),
		failing: make(map[string]bool),
	}
}

// FailFor makes saves under the given names fail.
func (s *Sink) FailFor(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.failing[n] = true
	}
}

// Save implements imagery.Sink.
func (s *Sink) Save(ctx context.Context, name string, r *imagery.Raster) error {
	start := time.Now()
	defer func() { s.record(name, start, time.Now()) }()

	if err := sleep(ctx, s.MaxLatency); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[name] {
		return fmt.Errorf("save %s: %w", name, ErrInjected)
	}
	s.saved[name] = r
	return nil
}

// Saved returns the sorted names of the persisted rasters.
func (s *Sink) Saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.saved))
	for n := range s.saved {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the raster saved under name.
func (s *Sink) Get(name string) (*imagery.Raster, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.saved[name]
	return r, ok
}

func sleep(ctx context.Context, max time.Duration) error {
	if max <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(rand.N(max))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func boundsKey(b orb.Bound) string {
	return fmt.Sprintf("%.0f,%.0f,%.0f,%.0f", b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
}
