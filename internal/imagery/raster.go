package imagery

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/vk/patchgridgo/internal/geo"
)

// ErrInvalidRaster is returned by Validate for inconsistent rasters.
var ErrInvalidRaster = errors.New("invalid raster")

// Raster is band data plus a validity mask for one patch. Band values are
// stored band-sequential, row-major, with row 0 at the northern edge.
type Raster struct {
	Width  int
	Height int
	Bands  []string
	// Data holds len(Bands) planes of Width*Height reflectance values.
	Data []float32
	// Mask holds Width*Height entries; true marks a pixel with valid data.
	Mask []bool

	Bounds orb.Bound
	CRS    geo.CRS
}

// NewRaster allocates an empty raster.
func NewRaster(width, height int, bands []string) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Bands:  bands,
		Data:   make([]float32, width*height*len(bands)),
		Mask:   make([]bool, width*height),
	}
}

// Validate checks that the buffers match the declared dimensions.
func (r *Raster) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil raster", ErrInvalidRaster)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidRaster, r.Width, r.Height)
	}
	pixels := r.Width * r.Height
	if len(r.Data) != pixels*len(r.Bands) {
		return fmt.Errorf("%w: %d values for %d bands of %d pixels", ErrInvalidRaster, len(r.Data), len(r.Bands), pixels)
	}
	if len(r.Mask) != pixels {
		return fmt.Errorf("%w: mask has %d entries, want %d", ErrInvalidRaster, len(r.Mask), pixels)
	}
	return nil
}

// Band returns the plane of band b.
func (r *Raster) Band(b int) []float32 {
	n := r.Width * r.Height
	return r.Data[b*n : (b+1)*n]
}

// At returns the value of band b at column x, row y.
func (r *Raster) At(b, x, y int) float32 {
	return r.Data[b*r.Width*r.Height+y*r.Width+x]
}

// Set stores v for band b at column x, row y.
func (r *Raster) Set(b, x, y int, v float32) {
	r.Data[b*r.Width*r.Height+y*r.Width+x] = v
}

// ValidFraction returns the share of pixels flagged valid.
func (r *Raster) ValidFraction() float64 {
	if len(r.Mask) == 0 {
		return 0
	}
	valid := 0
	for _, ok := range r.Mask {
		if ok {
			valid++
		}
	}
	return float64(valid) / float64(len(r.Mask))
}
