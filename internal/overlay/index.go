package overlay

import (
	"math"
	"slices"

	"github.com/twpayne/go-geom"
)

type entry struct {
	slice  string
	id     string
	geom   geom.T
	bounds *geom.Bounds
}

type cell struct{ x, y int64 }

// maxCellsPerEntry bounds how many buckets one geometry is filed under;
// larger geometries go to the overflow list scanned for every query.
const maxCellsPerEntry = 4096

// bucketIndex is a uniform-grid spatial index over geometry bounds.
type bucketIndex struct {
	size     float64
	buckets  map[cell][]int
	entries  []entry
	overflow []int
}

func newBucketIndex(size float64) *bucketIndex {
	return &bucketIndex{size: size, buckets: make(map[cell][]int)}
}

func (b *bucketIndex) cellOf(x, y float64) cell {
	return cell{int64(math.Floor(x / b.size)), int64(math.Floor(y / b.size))}
}

func (b *bucketIndex) insert(e entry) {
	i := len(b.entries)
	b.entries = append(b.entries, e)

	lo := b.cellOf(e.bounds.Min(0), e.bounds.Min(1))
	hi := b.cellOf(e.bounds.Max(0), e.bounds.Max(1))
	if (hi.x-lo.x+1)*(hi.y-lo.y+1) > maxCellsPerEntry {
		b.overflow = append(b.overflow, i)
		return
	}
	for x := lo.x; x <= hi.x; x++ {
		for y := lo.y; y <= hi.y; y++ {
			c := cell{x, y}
			b.buckets[c] = append(b.buckets[c], i)
		}
	}
}

// covering returns, per slice, the ids of geometries containing p in
// insertion order.
func (b *bucketIndex) covering(p geom.Coord) map[string][]string {
	out := make(map[string][]string)
	test := func(i int) {
		e := b.entries[i]
		if e.bounds.OverlapsPoint(geom.XY, p) && contains(e.geom, p) {
			out[e.slice] = append(out[e.slice], e.id)
		}
	}
	for _, i := range b.buckets[b.cellOf(p[0], p[1])] {
		test(i)
	}
	for _, i := range b.overflow {
		test(i)
	}
	return out
}

// overlapping returns the entries whose bounds overlap b, each once, in
// insertion order.
func (b *bucketIndex) overlapping(bounds *geom.Bounds) []entry {
	var ids []int
	lo := b.cellOf(bounds.Min(0), bounds.Min(1))
	hi := b.cellOf(bounds.Max(0), bounds.Max(1))
	if (hi.x-lo.x+1)*(hi.y-lo.y+1) > maxCellsPerEntry {
		for i := range b.entries {
			ids = append(ids, i)
		}
	} else {
		seen := make(map[int]bool)
		for x := lo.x; x <= hi.x; x++ {
			for y := lo.y; y <= hi.y; y++ {
				for _, i := range b.buckets[cell{x, y}] {
					if !seen[i] {
						seen[i] = true
						ids = append(ids, i)
					}
				}
			}
		}
		ids = append(ids, b.overflow...)
		slices.Sort(ids)
	}

	var out []entry
	for _, i := range ids {
		if e := b.entries[i]; e.bounds.Overlaps(geom.XY, bounds) {
			out = append(out, e)
		}
	}
	return out
}
