// Package worldpath implements the canonical path grammar for addressing
// World state, plus the segment-aware overlap predicates used by lease
// conflict detection.
//
// Grammar (bit-exact): "/" + facet-root segment + ("/" + segment)*, all
// lowercase NFC, no percent-encoded slash, no "." or ".." segments, no
// trailing slash. Two paths are equal iff their canonical forms are
// byte-identical.
//
// All functions in this package are pure: no state, no I/O.
package worldpath

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Path is a canonical WorldPath. Values are only produced by Canonicalize;
// constructing a Path from an arbitrary string bypasses the grammar.
type Path string

// Selector is a canonical WorldPath with implicit subtree scope: it selects
// the path itself and everything nested under it.
type Selector Path

// Path returns the selector's root path.
func (s Selector) Path() Path { return Path(s) }

// facetRoots lists the recognized first segments of a WorldPath. Paths
// outside these facets do not address World state and are rejected.
var facetRoots = map[string]bool{
	"world": true,
}

// ErrCodePathInvalid is the machine-readable code carried by PathError.
const ErrCodePathInvalid = "PATH_INVALID"

// PathError reports a raw path that cannot be canonicalized.
// PathInvalid is fatal: callers must not retry.
type PathError struct {
	Raw    string // the input as given
	Reason string // which grammar rule was violated
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %q: %s", ErrCodePathInvalid, e.Raw, e.Reason)
}

// IsPathInvalid reports whether err is (or wraps) a PathError.
func IsPathInvalid(err error) bool {
	var pe *PathError
	return errors.As(err, &pe)
}

// Canonicalize converts a raw path into its canonical form.
//
// Steps, in order: lowercase, NFC-normalize, percent-decode exactly once,
// collapse repeated slashes, strip a trailing slash. The result must start
// with a recognized facet-root segment, contain no "." or ".." segments,
// and contain no "%" surviving the single decode: canonical forms are
// escape-free, which is what makes re-canonicalization a no-op.
//
// Canonicalize is idempotent: feeding its output back in returns the same
// bytes.
func Canonicalize(raw string) (Path, error) {
	if raw == "" {
		return "", &PathError{Raw: raw, Reason: "empty path"}
	}

	s := norm.NFC.String(strings.ToLower(raw))

	s, err := percentDecodeOnce(s)
	if err != nil {
		return "", &PathError{Raw: raw, Reason: err.Error()}
	}

	// Escape payloads may decode to uppercase or denormalized text;
	// the canonical form is lowercase NFC, so normalize again.
	s = norm.NFC.String(strings.ToLower(s))

	if strings.Contains(s, "%2f") {
		return "", &PathError{Raw: raw, Reason: "encoded slash survives single decode"}
	}
	// A canonical form never contains "%": a residual percent (literal or
	// double-encoded) would decode again on re-canonicalization, so it
	// cannot be a fixed point.
	if strings.ContainsRune(s, '%') {
		return "", &PathError{Raw: raw, Reason: "percent escape survives single decode"}
	}

	if !strings.HasPrefix(s, "/") {
		return "", &PathError{Raw: raw, Reason: "must begin with /"}
	}

	// Collapse repeated slashes and rebuild segment by segment.
	parts := strings.Split(s, "/")
	segs := make([]string, 0, len(parts))
	for _, seg := range parts {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." {
			return "", &PathError{Raw: raw, Reason: fmt.Sprintf("forbidden segment %q", seg)}
		}
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		return "", &PathError{Raw: raw, Reason: "no segments"}
	}
	if !facetRoots[segs[0]] {
		return "", &PathError{Raw: raw, Reason: fmt.Sprintf("unrecognized facet root %q", segs[0])}
	}

	return Path("/" + strings.Join(segs, "/")), nil
}

// CanonicalizeSelector canonicalizes a raw path and returns it as a Selector.
func CanonicalizeSelector(raw string) (Selector, error) {
	p, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	return Selector(p), nil
}

// percentDecodeOnce decodes %XX escapes exactly one time.
// Malformed escapes (truncated or non-hex) are errors, not passthroughs.
func percentDecodeOnce(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated percent escape at offset %d", i)
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("invalid percent escape %q", s[i:i+3])
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
