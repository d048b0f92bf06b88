// Package overlay provides the geospatial operations behind persistence
// analysis: buffering, overlay with dissolve, and per-key counting.
package overlay

import (
	"context"
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/persistence-cli/internal/model"
)

// GridOptions configures a Grid backend.
type GridOptions struct {
	// CellSize is the sample spacing in coordinate units.
	CellSize float64

	// Geographic marks lon/lat coordinates; buffer distances are then in
	// metres.
	Geographic bool

	// Segments is the number of vertices of a buffer disc.
	Segments int

	// MaxSamples caps the lattice points taken from one geometry. Larger
	// shapes are sampled on a coarser sub-lattice.
	MaxSamples int
}

// Grid computes overlays by sampling focal geometries on a regular lattice
// and testing each sample against the other slices' geometries.
type Grid struct {
	opts GridOptions
}

// NewGrid creates a Grid backend.
func NewGrid(opts GridOptions) *Grid {
	if opts.CellSize <= 0 {
		opts.CellSize = 0.0005
	}
	if opts.Segments < 8 {
		opts.Segments = 32
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 250_000
	}
	return &Grid{opts: opts}
}

// Centroid returns the centroid of a target geometry.
func (g *Grid) Centroid(t geom.T) (geom.Coord, error) {
	return Centroid(t)
}

// Buffer replaces each target geometry with a disc of radius distance
// around its centroid. Distance 0 returns the slice unchanged. Targets
// without a usable geometry keep a nil geometry.
func (g *Grid) Buffer(ctx context.Context, slice model.TimeSlice, distance int) (model.TimeSlice, error) {
	if distance < 0 {
		return slice, eris.Errorf("overlay: negative buffer distance %d", distance)
	}
	if distance == 0 {
		return slice, nil
	}

	out := slice
	out.Targets = make([]model.Target, len(slice.Targets))
	for i, t := range slice.Targets {
		if err := ctx.Err(); err != nil {
			return slice, err
		}
		out.Targets[i] = t
		out.Targets[i].Geom = nil
		if t.Geom == nil {
			continue
		}
		c, err := Centroid(t.Geom)
		if err != nil {
			zap.L().Debug("overlay: no centroid, target not buffered",
				zap.String("target_id", t.ID), zap.Error(err))
			continue
		}
		out.Targets[i].Geom = disc(c, float64(distance), g.opts.Segments, g.opts.Geographic)
	}
	return out, nil
}

// Overlay returns the regions covered by focal targets, tagged with every
// covering target of every slice and dissolved by tag set. Same-slice
// coverers produce one group per combination. Groups are sorted by key.
func (g *Grid) Overlay(ctx context.Context, focal model.TimeSlice, others []model.TimeSlice) ([]model.OverlapGroup, error) {
	idx := newBucketIndex(g.opts.CellSize * 64)
	for _, s := range others {
		for _, t := range s.Targets {
			if t.Geom == nil || t.Geom.Empty() {
				continue
			}
			idx.insert(entry{slice: s.Key, id: t.ID, geom: t.Geom, bounds: t.Geom.Bounds()})
		}
	}

	dissolved := make(map[string]model.OverlapGroup)
	for _, t := range focal.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.Geom == nil || t.Geom.Empty() {
			continue
		}
		pts := append(g.samples(t.Geom), candidatePoints(t.Geom, idx)...)
		for _, p := range pts {
			for _, grp := range combinations(focal.Key, t.ID, idx.covering(p)) {
				dissolved[grp.Key()] = grp
			}
		}
	}

	keys := make([]string, 0, len(dissolved))
	for k := range dissolved {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	groups := make([]model.OverlapGroup, len(keys))
	for i, k := range keys {
		groups[i] = dissolved[k]
	}
	return groups, nil
}

// CountByKey returns, for each target id of slice, the number of groups
// tagged with it.
func (g *Grid) CountByKey(_ context.Context, groups []model.OverlapGroup, slice string) (map[string]int, error) {
	out := make(map[string]int)
	for _, grp := range groups {
		if id, ok := grp.Member(slice); ok {
			out[id]++
		}
	}
	return out, nil
}

// samples returns the lattice points inside geometry plus its centroid.
func (g *Grid) samples(t geom.T) []geom.Coord {
	b := t.Bounds()
	step := g.opts.CellSize
	nx := math.Floor(b.Max(0)/step) - math.Ceil(b.Min(0)/step) + 1
	ny := math.Floor(b.Max(1)/step) - math.Ceil(b.Min(1)/step) + 1
	if n := nx * ny; n > float64(g.opts.MaxSamples) {
		step *= math.Ceil(math.Sqrt(n / float64(g.opts.MaxSamples)))
	}

	var pts []geom.Coord
	if c, err := Centroid(t); err == nil {
		pts = append(pts, c)
	}
	for i := math.Ceil(b.Min(0) / step); i*step <= b.Max(0); i++ {
		for j := math.Ceil(b.Min(1) / step); j*step <= b.Max(1); j++ {
			p := geom.Coord{i * step, j * step}
			if contains(t, p) {
				pts = append(pts, p)
			}
		}
	}
	return pts
}

// candidatePoints returns points of other-slice geometries that fall
// inside focal: each candidate's centroid, and outer-ring vertices strictly
// inside focal. They catch shapes lying between lattice points.
func candidatePoints(focal geom.T, idx *bucketIndex) []geom.Coord {
	var pts []geom.Coord
	for _, e := range idx.overlapping(focal.Bounds()) {
		if c, err := Centroid(e.geom); err == nil && contains(focal, c) {
			pts = append(pts, c)
		}
		for _, v := range outerVertices(e.geom) {
			if interior(focal, v) {
				pts = append(pts, v)
			}
		}
	}
	return pts
}

// combinations expands the coverers of one sample point into overlap
// groups: the focal target plus at most one target per other slice.
func combinations(focalSlice, focalID string, coverers map[string][]string) []model.OverlapGroup {
	keys := make([]string, 0, len(coverers))
	for k := range coverers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	tags := map[string]string{focalSlice: focalID}
	var out []model.OverlapGroup
	var walk func(i int)
	walk = func(i int) {
		if i == len(keys) {
			out = append(out, model.NewOverlapGroup(tags))
			return
		}
		for _, id := range coverers[keys[i]] {
			tags[keys[i]] = id
			walk(i + 1)
		}
		delete(tags, keys[i])
	}
	walk(0)
	return out
}
