package imagery

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"golang.org/x/image/tiff"
)

// ReflectanceScale maps reflectance to the 16-bit digital numbers stored in
// band TIFFs.
const ReflectanceScale = 10000

// MaskBand is the identifier of the validity mask plane.
const MaskBand = "dataMask"

var tiffOptions = &tiff.Options{Compression: tiff.Deflate, Predictor: true}

// EncodeBand writes band b as a single-channel 16-bit TIFF.
func EncodeBand(w io.Writer, r *Raster, b int) error {
	if b < 0 || b >= len(r.Bands) {
		return fmt.Errorf("%w: band %d out of range", ErrInvalidRaster, b)
	}
	img := image.NewGray16(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: toDN(r.At(b, x, y))})
		}
	}
	return tiff.Encode(w, img, tiffOptions)
}

// EncodeMask writes the validity mask as an 8-bit TIFF, 255 for valid pixels.
func EncodeMask(w io.Writer, r *Raster) error {
	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	for i, ok := range r.Mask {
		if ok {
			img.Pix[(i/r.Width)*img.Stride+i%r.Width] = 255
		}
	}
	return tiff.Encode(w, img, tiffOptions)
}

// DecodeBand reads a single-channel TIFF into a reflectance plane.
func DecodeBand(rd io.Reader) (plane []float32, width, height int, err error) {
	img, err := tiff.Decode(rd)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode band: %w", err)
	}
	b := img.Bounds()
	width, height = b.Dx(), b.Dy()
	plane = make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			plane[y*width+x] = float32(v.Y) / ReflectanceScale
		}
	}
	return plane, width, height, nil
}

// DecodeMask reads a mask TIFF. Any non-zero sample is valid.
func DecodeMask(rd io.Reader) (mask []bool, width, height int, err error) {
	img, err := tiff.Decode(rd)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode mask: %w", err)
	}
	b := img.Bounds()
	width, height = b.Dx(), b.Dy()
	mask = make([]bool, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			mask[y*width+x] = v.Y > 0
		}
	}
	return mask, width, height, nil
}

func toDN(v float32) uint16 {
	dn := math.Round(float64(v) * ReflectanceScale)
	switch {
	case math.IsNaN(dn) || dn < 0:
		return 0
	case dn > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(dn)
}
