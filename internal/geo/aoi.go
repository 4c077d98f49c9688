package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
)

// AreaOfInterest is the region to be imaged, in a metric CRS. Buffer expands
// the region by a fixed distance in CRS units before tiling.
type AreaOfInterest struct {
	Geometry orb.MultiPolygon
	CRS      CRS
	Buffer   float64
}

// NewAreaOfInterest validates geometry and CRS and returns the AOI.
func NewAreaOfInterest(mp orb.MultiPolygon, crs CRS) (AreaOfInterest, error) {
	aoi := AreaOfInterest{Geometry: mp, CRS: crs}
	if err := aoi.Validate(); err != nil {
		return AreaOfInterest{}, err
	}
	return aoi, nil
}

// WithBuffer returns a copy of the AOI expanded by d.
func (a AreaOfInterest) WithBuffer(d float64) AreaOfInterest {
	a.Buffer = d
	return a
}

// Validate rejects empty or zero-area geometries, negative buffers and
// non-metric coordinate systems.
func (a AreaOfInterest) Validate() error {
	if len(a.Geometry) == 0 {
		return fmt.Errorf("%w: geometry is empty", ErrInvalidAreaOfInterest)
	}
	if !a.CRS.IsMetric() {
		return fmt.Errorf("%w: %s is not a metric CRS, reproject to UTM first", ErrInvalidAreaOfInterest, a.CRS)
	}
	if Area(a.Geometry) <= 0 {
		return fmt.Errorf("%w: geometry has no area", ErrInvalidAreaOfInterest)
	}
	if a.Buffer < 0 {
		return fmt.Errorf("%w: negative buffer %g", ErrInvalidAreaOfInterest, a.Buffer)
	}
	return nil
}

// Bound returns the bounding box of the buffered AOI.
func (a AreaOfInterest) Bound() orb.Bound {
	return a.Geometry.Bound().Pad(a.Buffer)
}

// ClipToBound returns the part of mp that lies inside b. The input is not
// modified.
func ClipToBound(b orb.Bound, mp orb.MultiPolygon) orb.MultiPolygon {
	return clipMultiPolygon(b, mp)
}

func clipMultiPolygon(b orb.Bound, mp orb.MultiPolygon) orb.MultiPolygon {
	// clip uses its input as scratch space.
	return clip.MultiPolygon(b, mp.Clone())
}
