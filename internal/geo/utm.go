package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// WGS84 ellipsoid and UTM constants.
const (
	semiMajorAxis = 6378137.0
	flattening    = 1 / 298.257223563
	scaleFactor   = 0.9996
	falseEasting  = 500000.0
	falseNorthing = 10000000.0
)

// Krüger series coefficients, computed once from the ellipsoid.
var (
	tmN      = flattening / (2 - flattening)
	tmA      = semiMajorAxis / (1 + tmN) * (1 + tmN*tmN/4 + math.Pow(tmN, 4)/64)
	tmAlpha  = [3]float64{tmN/2 - 2*tmN*tmN/3 + 5*math.Pow(tmN, 3)/16, 13*tmN*tmN/48 - 3*math.Pow(tmN, 3)/5, 61 * math.Pow(tmN, 3) / 240}
	tmBeta   = [3]float64{tmN/2 - 2*tmN*tmN/3 + 37*math.Pow(tmN, 3)/96, tmN*tmN/48 + math.Pow(tmN, 3)/15, 17 * math.Pow(tmN, 3) / 480}
	tmDelta  = [3]float64{2*tmN - 2*tmN*tmN/3 - 2*math.Pow(tmN, 3), 7*tmN*tmN/3 - 8*math.Pow(tmN, 3)/5, 56 * math.Pow(tmN, 3) / 15}
	tmEccFac = 2 * math.Sqrt(tmN) / (1 + tmN)
)

// ToUTM projects a lon/lat point (degrees) into the given zone. The zone is
// forced, so points outside the band are projected with growing distortion.
func ToUTM(z Zone, p orb.Point) orb.Point {
	lat := p.Lat() * math.Pi / 180
	dLon := (p.Lon() - z.CentralMeridian()) * math.Pi / 180

	sinLat := math.Sin(lat)
	t := math.Sinh(math.Atanh(sinLat) - tmEccFac*math.Atanh(tmEccFac*sinLat))
	xiP := math.Atan2(t, math.Cos(dLon))
	etaP := math.Atanh(math.Sin(dLon) / math.Sqrt(1+t*t))

	e, n := etaP, xiP
	for j := 1; j <= 3; j++ {
		a := tmAlpha[j-1]
		fj := float64(2 * j)
		e += a * math.Cos(fj*xiP) * math.Sinh(fj*etaP)
		n += a * math.Sin(fj*xiP) * math.Cosh(fj*etaP)
	}

	x := falseEasting + scaleFactor*tmA*e
	y := scaleFactor * tmA * n
	if z.South {
		y += falseNorthing
	}
	return orb.Point{x, y}
}

// FromUTM converts a point in the given zone back to lon/lat degrees.
func FromUTM(z Zone, p orb.Point) orb.Point {
	y := p.Y()
	if z.South {
		y -= falseNorthing
	}
	xi := y / (scaleFactor * tmA)
	eta := (p.X() - falseEasting) / (scaleFactor * tmA)

	xiP, etaP := xi, eta
	for j := 1; j <= 3; j++ {
		b := tmBeta[j-1]
		fj := float64(2 * j)
		xiP -= b * math.Sin(fj*xi) * math.Cosh(fj*eta)
		etaP -= b * math.Cos(fj*xi) * math.Sinh(fj*eta)
	}

	chi := math.Asin(math.Sin(xiP) / math.Cosh(etaP))
	lat := chi
	for j := 1; j <= 3; j++ {
		lat += tmDelta[j-1] * math.Sin(float64(2*j)*chi)
	}
	lon := z.CentralMeridian()*math.Pi/180 + math.Atan2(math.Sinh(etaP), math.Cos(xiP))

	return orb.Point{lon * 180 / math.Pi, lat * 180 / math.Pi}
}

// Reproject converts a multi-polygon between WGS84 and UTM systems. Any other
// pairing is reported as unsupported.
func Reproject(mp orb.MultiPolygon, from, to CRS) (orb.MultiPolygon, error) {
	if from == to {
		return mp.Clone(), nil
	}
	toLonLat, err := toLonLatFunc(from)
	if err != nil {
		return nil, err
	}
	fromLonLat, err := fromLonLatFunc(to)
	if err != nil {
		return nil, err
	}
	return TransformMultiPolygon(mp, func(p orb.Point) orb.Point {
		return fromLonLat(toLonLat(p))
	}), nil
}

// TransformMultiPolygon returns a copy of mp with fn applied to every vertex.
func TransformMultiPolygon(mp orb.MultiPolygon, fn func(orb.Point) orb.Point) orb.MultiPolygon {
	out := make(orb.MultiPolygon, len(mp))
	for i, poly := range mp {
		out[i] = make(orb.Polygon, len(poly))
		for j, ring := range poly {
			r := make(orb.Ring, len(ring))
			for k, p := range ring {
				r[k] = fn(p)
			}
			out[i][j] = r
		}
	}
	return out
}

func toLonLatFunc(c CRS) (func(orb.Point) orb.Point, error) {
	if c == WGS84 {
		return func(p orb.Point) orb.Point { return p }, nil
	}
	if z, ok := c.Zone(); ok {
		return func(p orb.Point) orb.Point { return FromUTM(z, p) }, nil
	}
	return nil, &UnsupportedCRSError{CRS: c}
}

func fromLonLatFunc(c CRS) (func(orb.Point) orb.Point, error) {
	if c == WGS84 {
		return func(p orb.Point) orb.Point { return p }, nil
	}
	if z, ok := c.Zone(); ok {
		return func(p orb.Point) orb.Point { return ToUTM(z, p) }, nil
	}
	return nil, &UnsupportedCRSError{CRS: c}
}

// UnsupportedCRSError is returned when a transformation involves a CRS that is
// neither WGS84 nor a UTM zone.
type UnsupportedCRSError struct {
	CRS CRS
}

func (e *UnsupportedCRSError) Error() string {
	return "unsupported CRS " + e.CRS.String()
}
