package resolver

// DisjointSet is a union-find over string keys with path compression and union by rank
type DisjointSet struct {
	parent map[string]string
	rank   map[string]int
}

func NewDisjointSet() *DisjointSet {
	return &DisjointSet{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// Add registers a key as its own singleton set if it is not already present
func (d *DisjointSet) Add(key string) {
	if _, ok := d.parent[key]; !ok {
		d.parent[key] = key
	}
}

// Has reports whether key was added
func (d *DisjointSet) Has(key string) bool {
	_, ok := d.parent[key]
	return ok
}

// Find returns the representative of key's set
func (d *DisjointSet) Find(key string) string {
	d.Add(key)
	root := key
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for key != root {
		next := d.parent[key]
		d.parent[key] = root
		key = next
	}
	return root
}

// Union merges the sets holding a and b and reports whether they were distinct
func (d *DisjointSet) Union(a, b string) bool {
	ra, rb := d.Find(a), d.Find(b)
	if ra == rb {
		return false
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
	return true
}

// Components groups every key by its representative
func (d *DisjointSet) Components() map[string][]string {
	out := make(map[string][]string)
	for key := range d.parent {
		root := d.Find(key)
		out[root] = append(out[root], key)
	}
	return out
}
