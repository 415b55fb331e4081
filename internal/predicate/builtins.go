package predicate

import (
	"context"
	"errors"
	"fmt"

	"github.com/evanharte/planwright/internal/worldpath"
)

// registerBuiltins loads the stock predicate table. Registration cannot
// collide here: ids are unique within this function and it runs once per
// evaluator.
func registerBuiltins(e *Evaluator) {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(e.Register("world.path_exists", "1", worldPathExists))
	must(e.Register("world.path_absent", "1", worldPathAbsent))
	must(e.Register("outputs.nonempty", "1", outputsNonempty))
	must(e.Register("outputs.within", "1", outputsWithin))
	must(e.Register("outputs.max_bytes", "1", outputsMaxBytes))
}

// argString extracts a required string argument.
func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing arg %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("arg %q: expected string, got %T", key, v)
	}
	return s, nil
}

// argInt extracts a required integer argument. YAML decodes integers as int,
// but accept int64 and float64 forms for arguments built in Go.
func argInt(args map[string]any, key string) (int64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing arg %q", key)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("arg %q: expected integer, got %T", key, v)
	}
}

// worldPathExists is true iff args.path stats successfully.
func worldPathExists(ctx context.Context, req Request) (bool, string, error) {
	raw, err := argString(req.Args, "path")
	if err != nil {
		return false, "", err
	}
	p, err := worldpath.Canonicalize(raw)
	if err != nil {
		return false, "", err
	}
	info, err := req.World.Stat(ctx, p)
	if errors.Is(err, ErrNotExist) {
		return false, fmt.Sprintf("%s does not exist", p), nil
	}
	if err != nil {
		return false, "", err
	}
	return true, fmt.Sprintf("%s exists (%d bytes)", p, info.SizeBytes), nil
}

// worldPathAbsent is the negation of worldPathExists.
func worldPathAbsent(ctx context.Context, req Request) (bool, string, error) {
	ok, evidence, err := worldPathExists(ctx, req)
	if err != nil {
		return false, "", err
	}
	return !ok, evidence, nil
}

// outputsNonempty is true iff the envelope declared at least one output.
func outputsNonempty(_ context.Context, req Request) (bool, string, error) {
	if len(req.Outputs) == 0 {
		return false, "envelope declared no outputs", nil
	}
	return true, fmt.Sprintf("envelope declared %d output(s)", len(req.Outputs)), nil
}

// outputsWithin is true iff every declared output path falls inside the
// subtree of args.prefix.
func outputsWithin(_ context.Context, req Request) (bool, string, error) {
	raw, err := argString(req.Args, "prefix")
	if err != nil {
		return false, "", err
	}
	prefix, err := worldpath.Canonicalize(raw)
	if err != nil {
		return false, "", err
	}
	for _, out := range req.Outputs {
		p, err := worldpath.Canonicalize(out.Path)
		if err != nil {
			return false, "", err
		}
		if p != prefix && !worldpath.Overlaps(prefix, p) {
			return false, fmt.Sprintf("output %s is outside %s", p, prefix), nil
		}
		// Overlap where the output is the ancestor means it escapes the prefix.
		if len(p) < len(prefix) {
			return false, fmt.Sprintf("output %s is broader than %s", p, prefix), nil
		}
	}
	return true, fmt.Sprintf("all %d output(s) within %s", len(req.Outputs), prefix), nil
}

// outputsMaxBytes is true iff every declared output is at most args.max_bytes.
func outputsMaxBytes(_ context.Context, req Request) (bool, string, error) {
	max, err := argInt(req.Args, "max_bytes")
	if err != nil {
		return false, "", err
	}
	for _, out := range req.Outputs {
		if out.SizeBytes > max {
			return false, fmt.Sprintf("output %s is %d bytes, over limit %d", out.Path, out.SizeBytes, max), nil
		}
	}
	return true, fmt.Sprintf("all outputs within %d bytes", max), nil
}
