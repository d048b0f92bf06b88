package overlay

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

// metresPerDegree is the length of one degree of latitude on the WGS84
// mean sphere.
const metresPerDegree = 111_320.0

// Centroid returns the area centroid of g. Degenerate shapes fall back to
// the centre of their bounding box.
func Centroid(g geom.T) (geom.Coord, error) {
	if g == nil || g.Empty() {
		return nil, eris.New("overlay: centroid of empty geometry")
	}
	c, err := xy.Centroid(g)
	if err != nil {
		return nil, eris.Wrap(err, "overlay: centroid")
	}
	if len(c) < 2 || math.IsNaN(c[0]) || math.IsNaN(c[1]) || math.IsInf(c[0], 0) || math.IsInf(c[1], 0) {
		b := g.Bounds()
		return geom.Coord{(b.Min(0) + b.Max(0)) / 2, (b.Min(1) + b.Max(1)) / 2}, nil
	}
	return geom.Coord{c[0], c[1]}, nil
}

// disc approximates a circle of radius r around c with n vertices. When
// geographic is set, c is lon/lat and r is in metres.
func disc(c geom.Coord, r float64, n int, geographic bool) *geom.Polygon {
	sx, sy := 1.0, 1.0
	if geographic {
		sy = 1 / metresPerDegree
		sx = 1 / (metresPerDegree * math.Max(math.Cos(c[1]*math.Pi/180), 1e-6))
	}

	flat := make([]float64, 0, 2*(n+1))
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		flat = append(flat, c[0]+r*math.Cos(a)*sx, c[1]+r*math.Sin(a)*sy)
	}
	flat = append(flat, flat[0], flat[1])
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326)
}

// contains reports whether p lies inside g (outer ring in, holes out).
// Points on a boundary count as inside.
func contains(g geom.T, p geom.Coord) bool {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonContains(t, p)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if polygonContains(t.Polygon(i), p) {
				return true
			}
		}
	}
	return false
}

func polygonContains(poly *geom.Polygon, p geom.Coord) bool {
	n := poly.NumLinearRings()
	if n == 0 {
		return false
	}
	layout := poly.Layout()
	if !xy.IsPointInRing(layout, p, poly.LinearRing(0).FlatCoords()) {
		return false
	}
	for i := 1; i < n; i++ {
		hole := poly.LinearRing(i).FlatCoords()
		if xy.LocatePointInRing(layout, p, hole) == location.Interior {
			return false
		}
	}
	return true
}

// interior reports whether p lies strictly inside g: off every boundary
// and outside every hole.
func interior(g geom.T, p geom.Coord) bool {
	for _, poly := range polygons(g) {
		if poly.NumLinearRings() == 0 {
			continue
		}
		layout := poly.Layout()
		if xy.LocatePointInRing(layout, p, poly.LinearRing(0).FlatCoords()) != location.Interior {
			continue
		}
		inHole := false
		for i := 1; i < poly.NumLinearRings(); i++ {
			if xy.LocatePointInRing(layout, p, poly.LinearRing(i).FlatCoords()) != location.Exterior {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// outerVertices returns the shell vertices of a polygonal geometry.
func outerVertices(g geom.T) []geom.Coord {
	var out []geom.Coord
	for _, poly := range polygons(g) {
		if poly.NumLinearRings() == 0 {
			continue
		}
		flat := poly.LinearRing(0).FlatCoords()
		stride := poly.Stride()
		for i := 0; i+1 < len(flat); i += stride {
			out = append(out, geom.Coord{flat[i], flat[i+1]})
		}
	}
	return out
}

func polygons(g geom.T) []*geom.Polygon {
	switch t := g.(type) {
	case *geom.Polygon:
		return []*geom.Polygon{t}
	case *geom.MultiPolygon:
		out := make([]*geom.Polygon, t.NumPolygons())
		for i := range out {
			out[i] = t.Polygon(i)
		}
		return out
	}
	return nil
}
