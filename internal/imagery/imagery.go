// Package imagery defines the collaborators the acquisition pipeline talks
// to: a catalog answering "when was this place imaged", a retriever that
// fetches a raster for a box and time window, and a sink that persists it.
package imagery

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/vk/patchgridgo/internal/geo"
	"github.com/vk/patchgridgo/internal/timewindow"
)

// Mosaicking selects which acquisition wins when several cover a pixel.
type Mosaicking string

const (
	MostRecent  Mosaicking = "mostRecent"
	LeastRecent Mosaicking = "leastRecent"
	LeastCC     Mosaicking = "leastCC"
)

// ParseMosaicking validates a mosaicking order name.
func ParseMosaicking(s string) (Mosaicking, error) {
	switch m := Mosaicking(s); m {
	case MostRecent, LeastRecent, LeastCC:
		return m, nil
	}
	return "", fmt.Errorf("unknown mosaicking order %q (want mostRecent, leastRecent or leastCC)", s)
}

// Request describes one patch to retrieve. Bounds are in CRS units.
type Request struct {
	Bounds        orb.Bound
	CRS           geo.CRS
	Window        timewindow.Window
	Bands         []string
	MaxCloudCover float64
	Mosaicking    Mosaicking
	// Resolution is the pixel size in metres.
	Resolution float64
}

// CatalogQuery asks for acquisitions over a box.
type CatalogQuery struct {
	Bounds        orb.Bound
	CRS           geo.CRS
	Window        timewindow.Window
	MaxCloudCover float64
}

// Catalog lists acquisition timestamps in ascending order.
type Catalog interface {
	Timestamps(ctx context.Context, q CatalogQuery) ([]time.Time, error)
}

// Retriever fetches the raster for a request.
type Retriever interface {
	Retrieve(ctx context.Context, req Request) (*Raster, error)
}

// Sink persists a retrieved raster under a name.
type Sink interface {
	Save(ctx context.Context, name string, r *Raster) error
}
