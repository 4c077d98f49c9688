package tiler

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/vk/patchgridgo/internal/geo"
)

// minCellArea is the smallest overlap, in square metres, that makes an
// unbuffered cell part of the grid. Cells that only touch the AOI are dropped.
const minCellArea = 1e-6

// Tiler computes zone-aware tile grids.
type Tiler struct {
	aligned bool
}

// Option configures a Tiler.
type Option func(*Tiler)

// WithAlignedOrigin snaps each zone grid's origin to a multiple of the side
// length in zone coordinates, so grids of different runs line up.
func WithAlignedOrigin() Option {
	return func(t *Tiler) { t.aligned = true }
}

// New creates a Tiler.
func New(opts ...Option) *Tiler {
	t := &Tiler{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tile returns the ordered tile sequence for the AOI.
func (t *Tiler) Tile(aoi geo.AreaOfInterest, sideLength float64) ([]Tile, error) {
	tiling, err := t.Split(aoi, sideLength)
	if err != nil {
		return nil, err
	}
	return tiling.Tiles, nil
}

// Split tiles the AOI and returns the tiles together with the per-zone grids.
func (t *Tiler) Split(aoi geo.AreaOfInterest, sideLength float64) (*Tiling, error) {
	if !positive(sideLength) {
		return nil, fmt.Errorf("%w: side length must be positive, got %g", ErrInvalidArgument, sideLength)
	}
	if err := aoi.Validate(); err != nil {
		return nil, err
	}

	portions, err := zonePortions(aoi)
	if err != nil {
		return nil, err
	}

	tiling := &Tiling{
		SideLength: sideLength,
		Zones:      make(map[geo.Zone]*ZoneGrid, len(portions)),
	}
	for _, p := range portions {
		grid := t.grid(p, len(tiling.Zones), aoi.Buffer, sideLength, len(tiling.Tiles))
		if len(grid.Tiles) == 0 {
			continue
		}
		tiling.Zones[p.zone] = grid
		tiling.Tiles = append(tiling.Tiles, grid.Tiles...)
	}
	return tiling, nil
}

// zonePortion is the part of the AOI a single zone grid is responsible for,
// in that zone's UTM coordinates. When the AOI spans several zones, band is
// the zone's longitude band and full is the whole AOI projected into the
// zone, so that buffered cells near a seam are measured against the entire
// AOI but never leave the band.
type zonePortion struct {
	zone     geo.Zone
	geometry orb.MultiPolygon
	full     orb.MultiPolygon
	band     orb.MultiPolygon
}

// metresPerDegree is the length of one degree of latitude, rounded down so
// that padding in degrees never falls short of the buffer.
const metresPerDegree = 110_000.0

// bandMarginDeg extends a zone band north and south of the AOI, so that the
// projected band is never cut short by its straight chord edges.
const bandMarginDeg = 0.01

func zonePortions(aoi geo.AreaOfInterest) ([]zonePortion, error) {
	native, _ := aoi.CRS.Zone()
	lonlat, err := geo.Reproject(aoi.Geometry, aoi.CRS, geo.WGS84)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", geo.ErrInvalidAreaOfInterest, err)
	}

	lb := padDegrees(lonlat.Bound(), aoi.Buffer)
	south := lonlat.Bound().Center().Lat() < 0
	first := geo.ZoneForLonLat(lb.Min.Lon(), lb.Min.Lat()).Number
	last := geo.ZoneForLonLat(lb.Max.Lon(), lb.Min.Lat()).Number

	if first == last {
		z := geo.Zone{Number: first, South: south}
		if z == native {
			return []zonePortion{{zone: z, geometry: aoi.Geometry, full: aoi.Geometry}}, nil
		}
		projected := project(z, lonlat)
		return []zonePortion{{zone: z, geometry: projected, full: projected}}, nil
	}

	var portions []zonePortion
	for n := first; n <= last; n++ {
		west, east := geo.Zone{Number: n}.LonRange()
		band := orb.Bound{
			Min: orb.Point{west, math.Max(lb.Min.Lat()-bandMarginDeg, -89)},
			Max: orb.Point{east, math.Min(lb.Max.Lat()+bandMarginDeg, 89)},
		}
		part := geo.ClipToBound(band, lonlat)
		if aoi.Buffer <= 0 && geo.Area(part) <= 0 {
			continue
		}
		z := geo.Zone{Number: n, South: south}
		portions = append(portions, zonePortion{
			zone:     z,
			geometry: project(z, part),
			full:     project(z, lonlat),
			band:     project(z, densify(band, 32)),
		})
	}
	sort.SliceStable(portions, func(i, j int) bool {
		return portions[i].zone.Less(portions[j].zone)
	})
	return portions, nil
}

// padDegrees grows a lon/lat bound by at least d metres on every side.
func padDegrees(b orb.Bound, d float64) orb.Bound {
	if d <= 0 {
		return b
	}
	maxLat := math.Max(math.Abs(b.Min.Lat()), math.Abs(b.Max.Lat()))
	dLat := d / metresPerDegree
	dLon := d / (metresPerDegree * math.Max(math.Cos((maxLat+dLat)*math.Pi/180), 0.01))
	return orb.Bound{
		Min: orb.Point{math.Max(b.Min.Lon()-dLon, -180), math.Max(b.Min.Lat()-dLat, -89)},
		Max: orb.Point{math.Min(b.Max.Lon()+dLon, 180), math.Min(b.Max.Lat()+dLat, 89)},
	}
}

// densify returns b as a polygon with n segments per side, so that its edges
// stay close to the true meridians and parallels once projected.
func densify(b orb.Bound, n int) orb.MultiPolygon {
	corners := [5]orb.Point{
		b.Min,
		{b.Max.Lon(), b.Min.Lat()},
		b.Max,
		{b.Min.Lon(), b.Max.Lat()},
		b.Min,
	}
	ring := make(orb.Ring, 0, 4*n+1)
	for k := 0; k < 4; k++ {
		a, c := corners[k], corners[k+1]
		for i := 0; i < n; i++ {
			f := float64(i) / float64(n)
			ring = append(ring, orb.Point{a[0] + f*(c[0]-a[0]), a[1] + f*(c[1]-a[1])})
		}
	}
	ring = append(ring, ring[0])
	return orb.MultiPolygon{{ring}}
}

func project(z geo.Zone, lonlat orb.MultiPolygon) orb.MultiPolygon {
	return geo.TransformMultiPolygon(lonlat, func(p orb.Point) orb.Point {
		return geo.ToUTM(z, p)
	})
}

func (t *Tiler) grid(p zonePortion, zoneIndex int, buffer, side float64, firstIndex int) *ZoneGrid {
	extent := p.geometry.Bound()
	padded := extent
	if buffer > 0 {
		extent = p.full.Bound()
		padded = extent.Pad(buffer)
		if p.band != nil {
			padded = intersection(padded, p.band.Bound())
		}
	}

	origin := padded.Min
	if t.aligned {
		origin = orb.Point{
			math.Floor(origin.X()/side) * side,
			math.Floor(origin.Y()/side) * side,
		}
	}

	g := &ZoneGrid{
		Zone:      p.zone,
		ZoneIndex: zoneIndex,
		Origin:    origin,
		Cols:      cellCount(padded.Max.X()-origin.X(), side),
		Rows:      cellCount(padded.Max.Y()-origin.Y(), side),
	}

	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			minX := origin.X() + float64(col)*side
			minY := origin.Y() + float64(row)*side
			cell := orb.Bound{
				Min: orb.Point{minX, minY},
				Max: orb.Point{minX + side, minY + side},
			}
			if !p.keeps(cell, extent, buffer) {
				continue
			}
			g.Tiles = append(g.Tiles, Tile{
				Index:     firstIndex + len(g.Tiles),
				Zone:      p.zone,
				ZoneIndex: zoneIndex,
				Row:       row,
				Col:       col,
				Bounds:    cell,
			})
		}
	}
	return g
}

// keeps reports whether cell overlaps the AOI grown by buffer and, for AOIs
// spanning several zones, the zone's own band.
func (p zonePortion) keeps(cell orb.Bound, extent orb.Bound, buffer float64) bool {
	if buffer > 0 {
		if !cell.Pad(buffer).Intersects(extent) {
			return false
		}
		if p.band != nil && geo.IntersectionArea(cell, p.band) <= minCellArea {
			return false
		}
		return geo.BoundDistance(cell, p.full) < buffer
	}
	if !cell.Intersects(extent) {
		return false
	}
	return geo.IntersectionArea(cell, p.geometry) > minCellArea
}

func intersection(a, b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Max(a.Min.X(), b.Min.X()), math.Max(a.Min.Y(), b.Min.Y())},
		Max: orb.Point{math.Min(a.Max.X(), b.Max.X()), math.Min(a.Max.Y(), b.Max.Y())},
	}
}

func cellCount(extent, side float64) int {
	n := int(math.Ceil(extent/side - 1e-9))
	if n < 1 {
		return 1
	}
	return n
}
