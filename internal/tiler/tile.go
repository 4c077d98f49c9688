// Package tiler splits an area of interest into a regular grid of square
// tiles, one independent grid per UTM zone the area touches.
package tiler

import (
	"errors"

	"github.com/paulmach/orb"
	"github.com/vk/patchgridgo/internal/geo"
)

// ErrInvalidArgument is returned for non-positive side lengths and for
// conflicting tile size modes.
var ErrInvalidArgument = errors.New("invalid tiling argument")

// Tile is one cell of a zone grid. Bounds are in the CRS of Zone.
type Tile struct {
	// Index is the tile's position in the emitted sequence.
	Index int
	Zone  geo.Zone
	// ZoneIndex is the ordinal of Zone among the zones of the tiling run.
	ZoneIndex int
	Row       int
	Col       int
	Bounds    orb.Bound
}

// Key identifies a tile's grid position. It is unique within a tiling run.
type Key struct {
	ZoneIndex int
	Row       int
	Col       int
}

// Key returns the tile's grid position.
func (t Tile) Key() Key {
	return Key{ZoneIndex: t.ZoneIndex, Row: t.Row, Col: t.Col}
}

// CRS returns the coordinate system the tile bounds are expressed in.
func (t Tile) CRS() geo.CRS {
	return t.Zone.CRS()
}

// ZoneGrid is the local grid of one zone. Rows and Cols describe the full
// grid extent; Tiles holds only the cells that intersect the AOI.
type ZoneGrid struct {
	Zone      geo.Zone
	ZoneIndex int
	Origin    orb.Point
	Rows      int
	Cols      int
	Tiles     []Tile
}

// Tiling is the result of a tiling run.
type Tiling struct {
	SideLength float64
	Zones      map[geo.Zone]*ZoneGrid
	// Tiles lists every tile ordered by zone, then row-major within the zone.
	Tiles []Tile
}

// ZoneOrder returns the zones of the tiling ordered by ZoneIndex.
func (t *Tiling) ZoneOrder() []geo.Zone {
	out := make([]geo.Zone, len(t.Zones))
	for z, g := range t.Zones {
		out[g.ZoneIndex] = z
	}
	return out
}
