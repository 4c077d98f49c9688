// Package fs stores patches in a local directory tree.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/patchgridgo/internal/ctxlog"
	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/metrics"
	"github.com/vk/patchgridgo/internal/sink"
)

// Sink writes each patch into <root>/<name>/. A patch directory appears
// complete or not at all; saving a name again replaces the directory.
type Sink struct {
	root    string
	metrics *metrics.Metrics
}

var _ imagery.Sink = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithMetrics counts persisted bytes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// New creates the root directory if needed.
func New(root string, opts ...Option) (*Sink, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %w", root, err)
	}
	s := &Sink{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the output directory.
func (s *Sink) Root() string { return s.root }

// Save encodes the raster and moves it into place.
func (s *Sink) Save(ctx context.Context, name string, r *imagery.Raster) error {
	files, err := sink.Encode(name, r)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.MkdirTemp(s.root, "."+name+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	for _, f := range files {
		if err := os.WriteFile(filepath.Join(tmp, f.Name), f.Data, 0644); err != nil {
			return fmt.Errorf("failed to write '%s': %w", f.Name, err)
		}
	}

	final := filepath.Join(s.root, name)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("failed to replace '%s': %w", final, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to move patch into '%s': %w", final, err)
	}

	size := sink.Size(files)
	s.metrics.AddBytesPersisted(size)
	ctxlog.FromContext(ctx).Debug("Patch written.", "job", name, "dir", final, "bytes", size)
	return nil
}
