package engine

import (
	"fmt"
	"sort"
	"strings"
)

// slotDescriptor locates one object's slot on disk and caches the metadata
// needed to answer reads without touching the file.
type slotDescriptor struct {
	offset     int64
	capacity   uint32
	payloadLen uint32
	version    uint32
}

// directory is the in-memory path -> slotDescriptor map described in §4.3.
// It is never persisted; Recovery rebuilds it by scanning the slot sequence
// on every Open. Given the "low-rate, not throughput-scale" workload the
// store is designed for (§2), scope enumeration is a linear scan over the
// map rather than a maintained tree index.
type directory struct {
	caseSensitive bool
	entries       map[string]*slotDescriptor
}

func newDirectory(caseSensitive bool) *directory {
	return &directory{
		caseSensitive: caseSensitive,
		entries:       make(map[string]*slotDescriptor),
	}
}

func (d *directory) normalize(path string) (string, error) {
	return NormalizePath(path, d.caseSensitive)
}

func (d *directory) lookup(path string) (*slotDescriptor, bool) {
	desc, ok := d.entries[path]
	return desc, ok
}

// insert adds a new entry. It returns ErrAlreadyExists if path is already
// present, matching §4.3's contract.
func (d *directory) insert(path string, desc slotDescriptor) error {
	if _, exists := d.entries[path]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, path)
	}

	d.entries[path] = &desc

	return nil
}

// insertRebuild is used by Recovery: it fails with ErrCorrupt instead of
// ErrAlreadyExists, since a duplicate path during rebuild is a structural
// error (§4.3 "Duplicate paths detected during rebuild are a structural
// error and fail Open"), not a benign caller mistake.
func (d *directory) insertRebuild(path string, desc slotDescriptor) error {
	if _, exists := d.entries[path]; exists {
		return fmt.Errorf("%w: duplicate path %q during rebuild", ErrCorrupt, path)
	}

	d.entries[path] = &desc

	return nil
}

func (d *directory) remove(path string) error {
	if _, exists := d.entries[path]; !exists {
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	}

	delete(d.entries, path)

	return nil
}

// keysInScope lists the leaf names of immediate terminal children of scope.
func (d *directory) keysInScope(scope string) []string {
	var out []string

	for path := range d.entries {
		parent, leaf := parentScope(path)
		if parent == scope {
			out = append(out, leaf)
		}
	}

	sort.Strings(out)

	return out
}

// subscopesInScope lists the names of immediate child scopes of scope, i.e.
// the first path segment after scope for every entry that lies two or more
// levels below it.
func (d *directory) subscopesInScope(scope string) []string {
	seen := make(map[string]struct{})

	for path := range d.entries {
		if !isUnderScope(path, scope) {
			continue
		}

		rest := strings.TrimPrefix(path, scope)
		rest = strings.TrimPrefix(rest, "/")

		idx := strings.IndexByte(rest, '/')
		if idx < 0 {
			// rest is itself the terminal leaf directly under scope, not a
			// sub-scope.
			continue
		}

		seen[rest[:idx]] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// allObjectsUnder recursively lists every terminal path under scope.
func (d *directory) allObjectsUnder(scope string) []string {
	var out []string

	for path := range d.entries {
		if isUnderScope(path, scope) {
			out = append(out, path)
		}
	}

	sort.Strings(out)

	return out
}

// findByTerminalName lists every full path under startScope whose final
// segment equals name.
func (d *directory) findByTerminalName(name, startScope string) []string {
	var out []string

	for path := range d.entries {
		if path != startScope && !isUnderScope(path, startScope) {
			continue
		}

		_, leaf := parentScope(path)
		if leaf == name {
			out = append(out, path)
		}
	}

	sort.Strings(out)

	return out
}

// allPaths returns every entry's path, used by DebugDump.
func (d *directory) allPaths() []string {
	out := make([]string, 0, len(d.entries))
	for path := range d.entries {
		out = append(out, path)
	}

	sort.Strings(out)

	return out
}

func (d *directory) count() int {
	return len(d.entries)
}
