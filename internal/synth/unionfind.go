package synth

import "github.com/tmakaro/requal/internal/graph"

// unionFind is an index-arena disjoint set over column references.
// No pointers: parents are slice indices, which keeps the structure flat
// and trivially copyable.
type unionFind struct {
	index  map[graph.ColumnRef]int
	cols   []graph.ColumnRef
	parent []int
	rank   []int
}

func newUnionFind() *unionFind {
	return &unionFind{index: make(map[graph.ColumnRef]int)}
}

// add registers a column and returns its index. Idempotent.
func (u *unionFind) add(c graph.ColumnRef) int {
	if i, ok := u.index[c]; ok {
		return i
	}
	i := len(u.cols)
	u.index[c] = i
	u.cols = append(u.cols, c)
	u.parent = append(u.parent, i)
	u.rank = append(u.rank, 0)
	return i
}

// find returns the root index with path compression.
func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union merges the sets containing a and b.
func (u *unionFind) union(a, b graph.ColumnRef) {
	ra, rb := u.find(u.add(a)), u.find(u.add(b))
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// root returns the root index for a column, registering it if needed.
func (u *unionFind) root(c graph.ColumnRef) int {
	return u.find(u.add(c))
}

// members returns every column in the same set as root index r,
// in registration order (deterministic).
func (u *unionFind) members(r int) []graph.ColumnRef {
	var out []graph.ColumnRef
	for i, c := range u.cols {
		if u.find(i) == r {
			out = append(out, c)
		}
	}
	return out
}

// roots returns the distinct root indices in registration order.
func (u *unionFind) roots() []int {
	var out []int
	seen := make(map[int]bool)
	for i := range u.cols {
		r := u.find(i)
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
