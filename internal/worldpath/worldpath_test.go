package worldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanonicalize_Basic tests the happy-path normalization steps.
func TestCanonicalize_Basic(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Path
	}{
		{"already canonical", "/world/artifacts/script.json", "/world/artifacts/script.json"},
		{"uppercase folded", "/World/Artifacts/Script.JSON", "/world/artifacts/script.json"},
		{"repeated slashes collapsed", "/world//artifacts///x", "/world/artifacts/x"},
		{"trailing slash stripped", "/world/artifacts/x/", "/world/artifacts/x"},
		{"percent decoded once", "/world/artifacts/a%20b", "/world/artifacts/a b"},
		{"decoded uppercase refolded", "/world/artifacts/%41bc", "/world/artifacts/abc"},
		{"facet root alone", "/world", "/world"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// TestCanonicalize_Idempotent verifies canonicalize(canonicalize(p)) == canonicalize(p).
func TestCanonicalize_Idempotent(t *testing.T) {
	raws := []string{
		"/world/artifacts/script.json",
		"/World//Artifacts/X/",
		"/world/artifacts/a%20b",
		"/world/streams/café", // precomposed e-acute
		"/world/streams/café", // combining acute, NFC-folds to the above
	}

	for _, raw := range raws {
		first, err := Canonicalize(raw)
		require.NoError(t, err, "raw %q", raw)

		second, err := Canonicalize(string(first))
		require.NoError(t, err, "canonical %q", first)
		assert.Equal(t, first, second, "not idempotent for %q", raw)
	}
}

// TestCanonicalize_NoResidualPercent verifies accepted canonical forms are
// escape-free. An output with a leftover "%" would either decode again or
// fail on re-canonicalization, breaking the fixed-point guarantee, so such
// inputs must be rejected outright.
func TestCanonicalize_NoResidualPercent(t *testing.T) {
	for _, raw := range []string{
		"/world/artifacts/100%25",  // would decode to a trailing literal %
		"/world/artifacts/a%2525b", // would decode to a%25b, then again to a%b
		"/world/artifacts/%25",
	} {
		_, err := Canonicalize(raw)
		require.Error(t, err, "raw %q", raw)
		assert.True(t, IsPathInvalid(err), "expected PathError for %q, got %v", raw, err)
	}
}

// TestCanonicalize_NFC verifies that decomposed and precomposed forms
// canonicalize to identical bytes.
func TestCanonicalize_NFC(t *testing.T) {
	precomposed, err := Canonicalize("/world/streams/café")
	require.NoError(t, err)

	decomposed, err := Canonicalize("/world/streams/café")
	require.NoError(t, err)

	assert.Equal(t, precomposed, decomposed)
}

// TestCanonicalize_Rejects tests every grammar violation.
func TestCanonicalize_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"relative", "world/artifacts/x"},
		{"dot segment", "/world/./x"},
		{"dotdot segment", "/world/../x"},
		{"encoded slash survives decode", "/world/artifacts/a%252fb"},
		{"literal percent survives decode", "/world/artifacts/100%25"},
		{"double-encoded escape survives decode", "/world/artifacts/a%2525b"},
		{"unknown facet root", "/bogus/artifacts/x"},
		{"root only", "/"},
		{"truncated escape", "/world/artifacts/a%2"},
		{"non-hex escape", "/world/artifacts/a%zz"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Canonicalize(tc.raw)
			require.Error(t, err)
			assert.True(t, IsPathInvalid(err), "expected PathError, got %v", err)
		})
	}
}

// TestOverlaps_SegmentBoundaries covers the core overlap semantics:
// equality, ancestry on segment boundaries, and the foobar non-overlap.
func TestOverlaps_SegmentBoundaries(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"/world/artifacts/x", "/world/artifacts/x", true},
		{"/world/artifacts/x", "/world/artifacts/x/y", true},
		{"/world/artifacts/x/y", "/world/artifacts/x", true},
		{"/world/artifacts/foo", "/world/artifacts/foobar", false},
		{"/world/artifacts/x", "/world/artifacts/xy", false},
		{"/world/artifacts/script.json", "/world/artifacts/scripts.json", false},
		{"/world", "/world/artifacts/x", true},
		{"/world/artifacts/a", "/world/streams/a", false},
	}

	for _, tc := range cases {
		got := Overlaps(Path(tc.a), Path(tc.b))
		assert.Equal(t, tc.want, got, "Overlaps(%q, %q)", tc.a, tc.b)

		// Symmetry
		assert.Equal(t, got, Overlaps(Path(tc.b), Path(tc.a)), "asymmetric for (%q, %q)", tc.a, tc.b)
	}
}

// TestAnyOverlap tests the pairwise set predicate.
func TestAnyOverlap(t *testing.T) {
	a := []Selector{"/world/artifacts/x", "/world/streams/s1"}
	b := []Selector{"/world/artifacts/y"}
	c := []Selector{"/world/streams/s1/frames"}

	assert.False(t, AnyOverlap(a, b))
	assert.True(t, AnyOverlap(a, c))
	assert.False(t, AnyOverlap(nil, a))
	assert.False(t, AnyOverlap(a, nil))
}
