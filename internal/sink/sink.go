// Package sink lays out a retrieved patch as files. The filesystem and S3
// sinks store the same files, one directory or key prefix per patch:
//
//	<name>/<band>.tif   16-bit reflectance, one file per band
//	<name>/mask.tif     8-bit validity mask
//	<name>/meta.yaml    patch metadata
package sink

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/vk/patchgridgo/internal/imagery"
	"gopkg.in/yaml.v3"
)

const (
	MaskFile = "mask.tif"
	MetaFile = "meta.yaml"
)

// ErrInvalidName is returned for patch names that cannot be used as a single
// path element.
var ErrInvalidName = errors.New("invalid patch name")

// File is one encoded member of a patch.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Meta is the content of meta.yaml.
type Meta struct {
	Name          string     `yaml:"name"`
	Width         int        `yaml:"width"`
	Height        int        `yaml:"height"`
	Bands         []string   `yaml:"bands"`
	CRS           string     `yaml:"crs"`
	Bounds        [4]float64 `yaml:"bounds,flow"`
	Scale         int        `yaml:"scale"`
	ValidFraction float64    `yaml:"valid_fraction"`
}

// CheckName rejects names that would escape the patch directory.
func CheckName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Encode validates the raster and renders its files: band TIFFs in band
// order, then the mask and the metadata.
func Encode(name string, r *imagery.Raster) ([]File, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	files := make([]File, 0, len(r.Bands)+2)
	for i, band := range r.Bands {
		if band == "mask" || band == "meta" {
			return nil, fmt.Errorf("band name %q clashes with a patch file", band)
		}
		var buf bytes.Buffer
		if err := imagery.EncodeBand(&buf, r, i); err != nil {
			return nil, fmt.Errorf("encode band %s: %w", band, err)
		}
		files = append(files, File{Name: band + ".tif", ContentType: "image/tiff", Data: buf.Bytes()})
	}

	var mask bytes.Buffer
	if err := imagery.EncodeMask(&mask, r); err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}
	files = append(files, File{Name: MaskFile, ContentType: "image/tiff", Data: mask.Bytes()})

	meta, err := yaml.Marshal(Meta{
		Name:          name,
		Width:         r.Width,
		Height:        r.Height,
		Bands:         r.Bands,
		CRS:           r.CRS.String(),
		Bounds:        [4]float64{r.Bounds.Min.X(), r.Bounds.Min.Y(), r.Bounds.Max.X(), r.Bounds.Max.Y()},
		Scale:         imagery.ReflectanceScale,
		ValidFraction: r.ValidFraction(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	files = append(files, File{Name: MetaFile, ContentType: "application/yaml", Data: meta})
	return files, nil
}

// Size returns the total payload of files in bytes.
func Size(files []File) int {
	n := 0
	for _, f := range files {
		n += len(f.Data)
	}
	return n
}
