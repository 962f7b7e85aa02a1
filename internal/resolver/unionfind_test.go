package resolver

import (
	"testing"

	"condoscan/internal/normalizer"
)

func TestUnionFind(t *testing.T) {
	t.Parallel()

	u := newUnionFind()
	u.union("a", "b")
	u.union("b", "c")
	u.union("x", "y")

	cases := []struct {
		a, b string
		want bool
	}{
		{"a", "b", true},
		{"a", "c", true}, // transitive
		{"c", "a", true},
		{"a", "x", false},
		{"x", "y", true},
		{"a", "a", true},
		{"unseen", "unseen", true},
		{"unseen", "a", false},
		{"unseen", "other-unseen", false},
	}
	for _, tc := range cases {
		if got := u.same(tc.a, tc.b); got != tc.want {
			t.Errorf("same(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestUnionFindLookupDoesNotLink(t *testing.T) {
	t.Parallel()

	u := newUnionFind()
	u.find("a")
	u.find("b")
	if u.same("a", "b") {
		t.Error("bare lookups created an equivalence")
	}
}

func TestFieldCompatible(t *testing.T) {
	t.Parallel()

	s := func(v string) *string { return &v }
	eq := newUnionFind()
	eq.union(normalizer.NormalizeLayout("2LDK"), normalizer.NormalizeLayout("2SLDK"))

	cases := []struct {
		name             string
		observed, stored *string
		want             bool
	}{
		{"both nil", nil, nil, true},
		{"observed nil", nil, s("2LDK"), true},
		{"stored nil", s("2LDK"), nil, true},
		{"equal after normalization", s("２ＬＤＫ"), s("2LDK"), true},
		{"merge-learned equivalence", s("2LDK"), s("2SLDK"), true},
		{"incompatible", s("2LDK"), s("3LDK"), false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := fieldCompatible(tc.observed, tc.stored, normalizer.NormalizeLayout, eq); got != tc.want {
				t.Errorf("fieldCompatible = %v, want %v", got, tc.want)
			}
		})
	}
}
