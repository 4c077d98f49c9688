package sentinel

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"text/template"
	"time"

	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/retry"
)

// ProcessClient retrieves patches through the process API. Every band comes
// back as its own 16-bit TIFF inside a tar archive, next to the data mask.
type ProcessClient struct {
	client *Client
}

var _ imagery.Retriever = (*ProcessClient)(nil)

var evalscriptTemplate = template.Must(template.New("evalscript").Parse(`//VERSION=3
function setup() {
  return {
    input: [{ bands: [{{range .Bands}}"{{.}}", {{end}}"dataMask"] }],
    output: [
{{- range .Bands}}
      { id: "{{.}}", bands: 1, sampleType: "UINT16" },
{{- end}}
      { id: "dataMask", bands: 1, sampleType: "UINT8" }
    ]
  };
}

function evaluatePixel(sample) {
  return {
{{- range .Bands}}
    {{.}}: [sample.{{.}} * {{$.Scale}}],
{{- end}}
    dataMask: [sample.dataMask]
  };
}
`))

// Evalscript returns the script selecting bands plus the data mask.
func Evalscript(bands []string) (string, error) {
	var b strings.Builder
	err := evalscriptTemplate.Execute(&b, struct {
		Bands []string
		Scale int
	}{bands, imagery.ReflectanceScale})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

type processRequest struct {
	Input      processInput  `json:"input"`
	Output     processOutput `json:"output"`
	Evalscript string        `json:"evalscript"`
}

type processInput struct {
	Bounds processBounds `json:"bounds"`
	Data   []processData `json:"data"`
}

type processBounds struct {
	BBox       [4]float64 `json:"bbox"`
	Properties struct {
		CRS string `json:"crs"`
	} `json:"properties"`
}

type processData struct {
	Type       string     `json:"type"`
	DataFilter dataFilter `json:"dataFilter"`
}

type dataFilter struct {
	TimeRange        timeRange `json:"timeRange"`
	MaxCloudCoverage float64   `json:"maxCloudCoverage"`
	MosaickingOrder  string    `json:"mosaickingOrder,omitempty"`
}

type timeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type processOutput struct {
	ResX      float64           `json:"resx"`
	ResY      float64           `json:"resy"`
	Responses []processResponse `json:"responses"`
}

type processResponse struct {
	Identifier string `json:"identifier"`
	Format     struct {
		Type string `json:"type"`
	} `json:"format"`
}

// Retrieve fetches the raster of one patch.
func (c *ProcessClient) Retrieve(ctx context.Context, req imagery.Request) (*imagery.Raster, error) {
	body, err := c.buildRequest(req)
	if err != nil {
		return nil, retry.Fatal(err)
	}

	data, err := c.client.post(ctx, "process", processPath, "application/x-tar", body)
	if err != nil {
		return nil, err
	}

	raster, err := decodeArchive(bytes.NewReader(data), req.Bands)
	if err != nil {
		return nil, err
	}
	raster.Bounds = req.Bounds
	raster.CRS = req.CRS
	return raster, nil
}

func (c *ProcessClient) buildRequest(req imagery.Request) (processRequest, error) {
	if len(req.Bands) == 0 {
		return processRequest{}, errors.New("process request needs at least one band")
	}
	if req.Resolution <= 0 {
		return processRequest{}, fmt.Errorf("process request needs a positive resolution, got %g", req.Resolution)
	}
	script, err := Evalscript(req.Bands)
	if err != nil {
		return processRequest{}, fmt.Errorf("failed to build evalscript: %w", err)
	}

	var out processRequest
	b := req.Bounds
	out.Input.Bounds.BBox = [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
	out.Input.Bounds.Properties.CRS = req.CRS.URN()
	out.Input.Data = []processData{{
		Type: c.client.cfg.Collection,
		DataFilter: dataFilter{
			TimeRange:        timeRange{From: req.Window.Start.UTC(), To: req.Window.End.UTC()},
			MaxCloudCoverage: req.MaxCloudCover * 100,
			MosaickingOrder:  string(req.Mosaicking),
		},
	}}
	out.Output.ResX = req.Resolution
	out.Output.ResY = req.Resolution
	for _, id := range append(append([]string(nil), req.Bands...), imagery.MaskBand) {
		r := processResponse{Identifier: id}
		r.Format.Type = "image/tiff"
		out.Output.Responses = append(out.Output.Responses, r)
	}
	out.Evalscript = script
	return out, nil
}

// decodeArchive assembles a raster from the "<id>.tif" members of a process
// API tar response.
func decodeArchive(r io.Reader, bands []string) (*imagery.Raster, error) {
	members := make(map[string][]byte)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read process archive: %w", err)
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from process archive: %w", hdr.Name, err)
		}
		members[strings.TrimSuffix(path.Base(hdr.Name), path.Ext(hdr.Name))] = b
	}

	maskData, ok := members[imagery.MaskBand]
	if !ok {
		return nil, fmt.Errorf("%w: process archive has no %s", imagery.ErrInvalidRaster, imagery.MaskBand)
	}
	mask, width, height, err := imagery.DecodeMask(bytes.NewReader(maskData))
	if err != nil {
		return nil, err
	}

	raster := imagery.NewRaster(width, height, bands)
	raster.Mask = mask
	for i, band := range bands {
		data, ok := members[band]
		if !ok {
			return nil, fmt.Errorf("%w: process archive has no band %s", imagery.ErrInvalidRaster, band)
		}
		plane, w, h, err := imagery.DecodeBand(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", band, err)
		}
		if w != width || h != height {
			return nil, fmt.Errorf("%w: band %s is %dx%d, mask is %dx%d", imagery.ErrInvalidRaster, band, w, h, width, height)
		}
		copy(raster.Band(i), plane)
	}
	return raster, nil
}
