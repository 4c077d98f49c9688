// Package geo holds the coordinate reference systems, UTM zone arithmetic and
// planar geometry helpers the tiler and the shape loader build on.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidAreaOfInterest is returned for empty or degenerate AOI geometries
// and for AOIs that are not expressed in a metric CRS.
var ErrInvalidAreaOfInterest = errors.New("invalid area of interest")

// CRS identifies a coordinate reference system by its EPSG code.
type CRS int

// WGS84 is the geographic lon/lat system used by GeoJSON.
const WGS84 CRS = 4326

const (
	utmNorthBase = 32600
	utmSouthBase = 32700
	zoneWidthDeg = 6.0
)

// String returns the CRS in "EPSG:<code>" form.
func (c CRS) String() string {
	return fmt.Sprintf("EPSG:%d", int(c))
}

// Zone returns the UTM zone of a UTM CRS.
func (c CRS) Zone() (Zone, bool) {
	code := int(c)
	switch {
	case code > utmNorthBase && code <= utmNorthBase+60:
		return Zone{Number: code - utmNorthBase}, true
	case code > utmSouthBase && code <= utmSouthBase+60:
		return Zone{Number: code - utmSouthBase, South: true}, true
	}
	return Zone{}, false
}

// IsMetric reports whether coordinates in c are expressed in metres.
func (c CRS) IsMetric() bool {
	_, ok := c.Zone()
	return ok
}

// URN returns the OGC URN form used by the Sentinel Hub APIs.
func (c CRS) URN() string {
	return fmt.Sprintf("http://www.opengis.net/def/crs/EPSG/0/%d", int(c))
}

// Zone is a UTM zone: a 6° longitude band projected with its own transverse
// Mercator, split by hemisphere.
type Zone struct {
	Number int
	South  bool
}

// ZoneForLonLat returns the standard UTM zone containing the point. The
// Norway and Svalbard exceptions are not applied.
func ZoneForLonLat(lon, lat float64) Zone {
	n := int(math.Floor((lon+180)/zoneWidthDeg)) + 1
	if n > 60 {
		n = 60
	}
	if n < 1 {
		n = 1
	}
	return Zone{Number: n, South: lat < 0}
}

// CRS returns the EPSG code of the zone.
func (z Zone) CRS() CRS {
	if z.South {
		return CRS(utmSouthBase + z.Number)
	}
	return CRS(utmNorthBase + z.Number)
}

// CentralMeridian returns the zone's central meridian in degrees.
func (z Zone) CentralMeridian() float64 {
	return float64(z.Number)*zoneWidthDeg - 183
}

// LonRange returns the western and eastern longitude of the zone band.
func (z Zone) LonRange() (west, east float64) {
	west = float64(z.Number-1)*zoneWidthDeg - 180
	return west, west + zoneWidthDeg
}

// Less orders zones by EPSG code.
func (z Zone) Less(o Zone) bool {
	return z.CRS() < o.CRS()
}

func (z Zone) String() string {
	if z.South {
		return fmt.Sprintf("%dS", z.Number)
	}
	return fmt.Sprintf("%dN", z.Number)
}
