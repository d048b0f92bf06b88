package persistence

// disjointSet is a union-find over string keys with path compression and
// union by rank. Keys are numbered in first-seen order.
type disjointSet struct {
	ids    map[string]int
	keys   []string
	parent []int
	rank   []uint8
}

func newDisjointSet() *disjointSet {
	return &disjointSet{ids: make(map[string]int)}
}

// add registers key and returns its index.
func (d *disjointSet) add(key string) int {
	if i, ok := d.ids[key]; ok {
		return i
	}
	i := len(d.keys)
	d.ids[key] = i
	d.keys = append(d.keys, key)
	d.parent = append(d.parent, i)
	d.rank = append(d.rank, 0)
	return i
}

func (d *disjointSet) find(i int) int {
	root := i
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for d.parent[i] != root {
		d.parent[i], i = root, d.parent[i]
	}
	return root
}

func (d *disjointSet) union(a, b int) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	switch {
	case d.rank[ra] < d.rank[rb]:
		d.parent[ra] = rb
	case d.rank[ra] > d.rank[rb]:
		d.parent[rb] = ra
	default:
		d.parent[rb] = ra
		d.rank[ra]++
	}
}

// components returns the sets in order of their earliest member. Members
// keep first-seen order.
func (d *disjointSet) components() [][]string {
	slot := make(map[int]int)
	var out [][]string
	for i, key := range d.keys {
		root := d.find(i)
		j, ok := slot[root]
		if !ok {
			j = len(out)
			slot[root] = j
			out = append(out, nil)
		}
		out[j] = append(out[j], key)
	}
	return out
}
