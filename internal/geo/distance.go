package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// BoundDistance returns the planar distance between the rectangle b and the
// area covered by mp. It is zero when they touch or overlap.
func BoundDistance(b orb.Bound, mp orb.MultiPolygon) float64 {
	corners := [4]orb.Point{
		b.Min,
		{b.Max.X(), b.Min.Y()},
		b.Max,
		{b.Min.X(), b.Max.Y()},
	}
	for _, c := range corners {
		if planar.MultiPolygonContains(mp, c) {
			return 0
		}
	}

	best := math.Inf(1)
	for _, poly := range mp {
		for _, ring := range poly {
			for i := 0; i+1 < len(ring); i++ {
				a, c := ring[i], ring[i+1]
				if b.Contains(a) {
					return 0
				}
				for k := 0; k < 4; k++ {
					d := segmentDistance(a, c, corners[k], corners[(k+1)%4])
					if d == 0 {
						return 0
					}
					best = math.Min(best, d)
				}
			}
		}
	}
	return best
}

// IntersectionArea returns the area of mp inside b.
func IntersectionArea(b orb.Bound, mp orb.MultiPolygon) float64 {
	return Area(clipMultiPolygon(b, mp))
}

// Area returns the unsigned planar area of mp.
func Area(mp orb.MultiPolygon) float64 {
	if len(mp) == 0 {
		return 0
	}
	return math.Abs(planar.Area(mp))
}

func segmentDistance(p1, p2, q1, q2 orb.Point) float64 {
	if segmentsIntersect(p1, p2, q1, q2) {
		return 0
	}
	return math.Min(
		math.Min(pointSegmentDistance(p1, q1, q2), pointSegmentDistance(p2, q1, q2)),
		math.Min(pointSegmentDistance(q1, p1, p2), pointSegmentDistance(q2, p1, p2)),
	)
}

func pointSegmentDistance(p, a, b orb.Point) float64 {
	dx, dy := b.X()-a.X(), b.Y()-a.Y()
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X()-a.X(), p.Y()-a.Y())
	}
	t := ((p.X()-a.X())*dx + (p.Y()-a.Y())*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X()-(a.X()+t*dx), p.Y()-(a.Y()+t*dy))
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

func cross(a, b, c orb.Point) float64 {
	return (b.X()-a.X())*(c.Y()-a.Y()) - (b.Y()-a.Y())*(c.X()-a.X())
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a.X(), b.X()) <= p.X() && p.X() <= math.Max(a.X(), b.X()) &&
		math.Min(a.Y(), b.Y()) <= p.Y() && p.Y() <= math.Max(a.Y(), b.Y())
}
