package shapefile

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

// SRID of every geometry read from or written to a shapefile.
const SRID = 4326

// EncodeEWKB serializes g as little-endian EWKB. A nil geometry encodes
// to nil.
func EncodeEWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "shapefile: encode ewkb")
	}
	return data, nil
}

// DecodeEWKB parses EWKB produced by EncodeEWKB. Empty input decodes to nil.
func DecodeEWKB(data []byte) (geom.T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "shapefile: decode ewkb")
	}
	return g, nil
}

// polygonToMultiPolygon converts a shapefile polygon to a MultiPolygon.
// Clockwise rings start a new polygon; counter-clockwise rings are holes
// of the preceding polygon. Ring orientation is reversed on the way in.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(SRID)
	var cur *geom.Polygon
	flush := func() {
		if cur == nil {
			return
		}
		if err := mp.Push(cur); err != nil {
			zap.L().Debug("shapefile: skipping malformed polygon", zap.Error(err))
		}
		cur = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			zap.L().Debug("shapefile: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		// Shapefile rings are stored clockwise for shells; reversing
		// gives the counter-clockwise shells go-geom areas expect.
		flat := make([]float64, 0, 2*(end-start))
		for j := end - 1; j >= start; j-- {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if cur == nil || signedArea(flat) >= 0 {
			flush()
			cur = geom.NewPolygon(geom.XY)
		}
		if err := cur.Push(ring); err != nil {
			zap.L().Debug("shapefile: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is positive for counter-clockwise rings.
func signedArea(flat []float64) float64 {
	var a float64
	for i := 0; i+3 < len(flat); i += 2 {
		a += flat[i]*flat[i+3] - flat[i+2]*flat[i+1]
	}
	return a / 2
}

// toShape converts a polygonal geometry to a shapefile polygon with
// outer rings clockwise and holes counter-clockwise.
func toShape(g geom.T) (*shp.Polygon, error) {
	var polys []*geom.Polygon
	switch t := g.(type) {
	case nil:
	case *geom.Polygon:
		polys = append(polys, t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			polys = append(polys, t.Polygon(i))
		}
	default:
		return nil, eris.Errorf("shapefile: unsupported geometry %T", g)
	}

	var parts [][]shp.Point
	for _, poly := range polys {
		for r := 0; r < poly.NumLinearRings(); r++ {
			flat := poly.LinearRing(r).FlatCoords()
			stride := poly.Stride()
			clockwise := signedArea2D(flat, stride) < 0
			wantClockwise := r == 0

			pts := make([]shp.Point, 0, len(flat)/stride)
			for i := 0; i < len(flat); i += stride {
				pts = append(pts, shp.Point{X: flat[i], Y: flat[i+1]})
			}
			if clockwise != wantClockwise {
				for a, b := 0, len(pts)-1; a < b; a, b = a+1, b-1 {
					pts[a], pts[b] = pts[b], pts[a]
				}
			}
			parts = append(parts, pts)
		}
	}

	if len(parts) == 0 {
		return &shp.Polygon{}, nil
	}
	poly := shp.Polygon(*shp.NewPolyLine(parts))
	return &poly, nil
}

func signedArea2D(flat []float64, stride int) float64 {
	if stride == 2 {
		return signedArea(flat)
	}
	xy := make([]float64, 0, 2*len(flat)/stride)
	for i := 0; i < len(flat); i += stride {
		xy = append(xy, flat[i], flat[i+1])
	}
	return signedArea(xy)
}
