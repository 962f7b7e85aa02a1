package resolver

// unionFind over string keys, used for the merge-learned attribute
// equivalence classes.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) find(x string) string {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

// same reports whether a and b are in one class. Unseen keys are only
// equivalent to themselves.
func (u *unionFind) same(a, b string) bool {
	if a == b {
		return true
	}
	if _, ok := u.parent[a]; !ok {
		return false
	}
	if _, ok := u.parent[b]; !ok {
		return false
	}
	return u.find(a) == u.find(b)
}
