package tiler

import (
	"fmt"
	"math"
)

// SizeParams selects how the tile side length is derived. Either Resolution
// and PatchSize are set (the patch keeps its pixel size), or FixedMeters is
// set (the patch keeps its ground footprint).
type SizeParams struct {
	Resolution  float64
	PatchSize   int
	FixedMeters float64
}

// SideLength returns the tile side in metres for the selected mode.
func SideLength(p SizeParams) (float64, error) {
	byResolution := p.Resolution != 0 || p.PatchSize != 0
	byFixed := p.FixedMeters != 0

	switch {
	case byResolution && byFixed:
		return 0, fmt.Errorf("%w: resolution/patch size and fixed size are mutually exclusive", ErrInvalidArgument)
	case byFixed:
		if !positive(p.FixedMeters) {
			return 0, fmt.Errorf("%w: fixed size must be positive, got %g", ErrInvalidArgument, p.FixedMeters)
		}
		return p.FixedMeters, nil
	case byResolution:
		if !positive(p.Resolution) || p.PatchSize <= 0 {
			return 0, fmt.Errorf("%w: resolution (%g) and patch size (%d) must both be positive", ErrInvalidArgument, p.Resolution, p.PatchSize)
		}
		return p.Resolution * float64(p.PatchSize), nil
	}
	return 0, fmt.Errorf("%w: no tile size given", ErrInvalidArgument)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
