// Package shape loads the area of interest from a GeoJSON file and brings it
// into a metric UTM coordinate system.
package shape

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/vk/patchgridgo/internal/ctxlog"
	"github.com/vk/patchgridgo/internal/geo"
)

// Provider loads AOIs. Without an explicit target CRS the AOI is projected
// into the UTM zone that contains the centre of its bounding box.
type Provider struct {
	target geo.CRS
}

// Option configures a Provider.
type Option func(*Provider)

// WithCRS forces the output CRS. It must be a UTM CRS.
func WithCRS(c geo.CRS) Option {
	return func(p *Provider) { p.target = c }
}

// NewProvider creates a Provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load reads a GeoJSON file and returns the AOI in a UTM CRS.
func (p *Provider) Load(ctx context.Context, path string) (geo.AreaOfInterest, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading area of interest.", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return geo.AreaOfInterest{}, fmt.Errorf("failed to read AOI file: %w", err)
	}

	lonlat, err := Parse(data)
	if err != nil {
		return geo.AreaOfInterest{}, fmt.Errorf("failed to parse AOI file %s: %w", path, err)
	}

	target := p.target
	if target == 0 {
		c := lonlat.Bound().Center()
		target = geo.ZoneForLonLat(c.Lon(), c.Lat()).CRS()
	}

	projected, err := geo.Reproject(lonlat, geo.WGS84, target)
	if err != nil {
		return geo.AreaOfInterest{}, fmt.Errorf("%w: %v", geo.ErrInvalidAreaOfInterest, err)
	}

	aoi, err := geo.NewAreaOfInterest(projected, target)
	if err != nil {
		return geo.AreaOfInterest{}, err
	}
	logger.Info("Area of interest loaded.", "path", path, "crs", target.String(), "polygons", len(projected))
	return aoi, nil
}

// Parse decodes a FeatureCollection, a Feature or a bare geometry and joins
// every Polygon and MultiPolygon in it into one multi-polygon. Other geometry
// types are ignored.
func Parse(data []byte) (orb.MultiPolygon, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", geo.ErrInvalidAreaOfInterest, err)
	}

	var geometries []orb.Geometry
	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", geo.ErrInvalidAreaOfInterest, err)
		}
		for _, f := range fc.Features {
			geometries = append(geometries, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", geo.ErrInvalidAreaOfInterest, err)
		}
		geometries = append(geometries, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", geo.ErrInvalidAreaOfInterest, err)
		}
		geometries = append(geometries, g.Geometry())
	}

	var out orb.MultiPolygon
	for _, g := range geometries {
		out = appendPolygons(out, g)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no polygon geometry found", geo.ErrInvalidAreaOfInterest)
	}
	return out, nil
}

func appendPolygons(mp orb.MultiPolygon, g orb.Geometry) orb.MultiPolygon {
	switch v := g.(type) {
	case orb.Polygon:
		return append(mp, v)
	case orb.MultiPolygon:
		return append(mp, v...)
	case orb.Collection:
		for _, inner := range v {
			mp = appendPolygons(mp, inner)
		}
	}
	return mp
}
