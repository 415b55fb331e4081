package worldpath

import "strings"

// Overlaps reports whether two canonical paths address overlapping subtrees:
// true iff the paths are equal or one is a strict ancestor of the other.
//
// Ancestry is decided on segment boundaries, never by raw string prefix:
// /world/artifacts/foo and /world/artifacts/foobar do not overlap.
//
// Overlaps is symmetric and reflexive. Both inputs must already be canonical.
func Overlaps(a, b Path) bool {
	if a == b {
		return true
	}
	return isAncestor(a, b) || isAncestor(b, a)
}

// isAncestor reports whether a is a strict ancestor of b.
func isAncestor(a, b Path) bool {
	return len(b) > len(a) && strings.HasPrefix(string(b), string(a)+"/")
}

// SelectorsOverlap reports whether two selectors' subtrees intersect.
// Because a selector covers its whole subtree, this is exactly Overlaps
// on the root paths.
func SelectorsOverlap(a, b Selector) bool {
	return Overlaps(Path(a), Path(b))
}

// AnyOverlap reports whether any selector in a overlaps any selector in b.
func AnyOverlap(a, b []Selector) bool {
	for _, sa := range a {
		for _, sb := range b {
			if SelectorsOverlap(sa, sb) {
				return true
			}
		}
	}
	return false
}
