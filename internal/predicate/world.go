package predicate

import (
	"context"
	"errors"
	"sync"

	"github.com/evanharte/planwright/internal/worldpath"
)

// ErrNotExist is returned by WorldReader implementations for paths with no
// committed content.
var ErrNotExist = errors.New("world path does not exist")

// Info describes a stat'd world path.
type Info struct {
	Path      worldpath.Path
	SizeBytes int64
}

// WorldReader is the narrow, explicitly injected read capability predicates
// (and adapter contexts) get over World state. No writes, no network, no
// recursive scans.
type WorldReader interface {
	Stat(ctx context.Context, path worldpath.Path) (Info, error)
	Get(ctx context.Context, path worldpath.Path) ([]byte, error)
}

// MemWorld is an in-memory WorldReader keyed by canonical path. It backs
// tests and hermetic runs; real object-storage readers implement the same
// interface externally.
type MemWorld struct {
	mu      sync.RWMutex
	entries map[worldpath.Path][]byte
}

// NewMemWorld creates an empty in-memory world.
func NewMemWorld() *MemWorld {
	return &MemWorld{entries: make(map[worldpath.Path][]byte)}
}

// Put stores content at a raw path, canonicalizing it first.
func (w *MemWorld) Put(raw string, content []byte) error {
	p, err := worldpath.Canonicalize(raw)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[p] = content
	return nil
}

// Stat implements WorldReader.
func (w *MemWorld) Stat(_ context.Context, path worldpath.Path) (Info, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	content, ok := w.entries[path]
	if !ok {
		return Info{}, ErrNotExist
	}
	return Info{Path: path, SizeBytes: int64(len(content))}, nil
}

// Get implements WorldReader.
func (w *MemWorld) Get(_ context.Context, path worldpath.Path) ([]byte, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	content, ok := w.entries[path]
	if !ok {
		return nil, ErrNotExist
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}
