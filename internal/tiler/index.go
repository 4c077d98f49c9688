package tiler

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/vk/patchgridgo/internal/geo"
)

// IndexRow is one row of the tabular tile index.
type IndexRow struct {
	Index     int        `yaml:"index"`
	Zone      string     `yaml:"zone"`
	EPSG      int        `yaml:"epsg"`
	ZoneIndex int        `yaml:"zone_index"`
	Row       int        `yaml:"row"`
	Col       int        `yaml:"col"`
	Bounds    [4]float64 `yaml:"bounds"`
}

// Index returns one row per tile in emission order. Bounds are
// [minX, minY, maxX, maxY] in the tile's zone CRS.
func (t *Tiling) Index() []IndexRow {
	rows := make([]IndexRow, 0, len(t.Tiles))
	for _, tile := range t.Tiles {
		b := tile.Bounds
		rows = append(rows, IndexRow{
			Index:     tile.Index,
			Zone:      tile.Zone.String(),
			EPSG:      int(tile.CRS()),
			ZoneIndex: tile.ZoneIndex,
			Row:       tile.Row,
			Col:       tile.Col,
			Bounds:    [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()},
		})
	}
	return rows
}

// FeatureCollection renders the tiles as GeoJSON polygons in lon/lat.
// index_x and index_y carry the column and row of the tile in its zone grid.
func (t *Tiling) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, tile := range t.Tiles {
		ring := tile.Bounds.ToRing()
		lonlat := make(orb.Ring, len(ring))
		for i, p := range ring {
			lonlat[i] = geo.FromUTM(tile.Zone, p)
		}

		f := geojson.NewFeature(orb.Polygon{lonlat})
		f.Properties["index"] = tile.Index
		f.Properties["index_x"] = tile.Col
		f.Properties["index_y"] = tile.Row
		f.Properties["zone"] = tile.Zone.String()
		f.Properties["zone_index"] = tile.ZoneIndex
		f.Properties["epsg"] = int(tile.CRS())
		fc.Append(f)
	}
	return fc
}
