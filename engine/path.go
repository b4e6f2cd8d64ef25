package engine

import (
	"fmt"
	"strings"
)

// Path bounds, per §6.2: "implementation may impose a maximum segment
// length and maximum total path length (e.g. 255 and 1024 respectively)".
const (
	maxSegmentLen = 255
	maxPathLen    = 1024
)

// NormalizePath validates path against the grammar in §6.2
// (`path := "/" | "/" segment ("/" segment)*`) and returns its canonical
// form: a leading "/", no "//" anywhere, no trailing "/" other than the
// root itself, and — when caseSensitive is false — every segment folded to
// lower case.
//
// It is a pure function with no side effects, so a caller that wants to
// canonicalize a path before calling into the Engine (for example to keep a
// case-sensitive-mode store's keys consistent) can do so without opening a
// store.
func NormalizePath(path string, caseSensitive bool) (string, error) {
	if len(path) == 0 || path[0] != '/' {
		return "", fmt.Errorf("%w: %q: must start with /", ErrInvalidPath, path)
	}

	if len(path) > maxPathLen {
		return "", fmt.Errorf("%w: %q: exceeds max length %d", ErrInvalidPath, path, maxPathLen)
	}

	if path == "/" {
		return "/", nil
	}

	raw := strings.Split(path[1:], "/")
	segs := make([]string, 0, len(raw))

	for _, seg := range raw {
		if seg == "" {
			return "", fmt.Errorf("%w: %q: empty segment", ErrInvalidPath, path)
		}

		if len(seg) > maxSegmentLen {
			return "", fmt.Errorf("%w: %q: segment %q exceeds max length %d", ErrInvalidPath, path, seg, maxSegmentLen)
		}

		if err := validateSegmentChars(seg); err != nil {
			return "", fmt.Errorf("%w: %q: %w", ErrInvalidPath, path, err)
		}

		if !caseSensitive {
			seg = strings.ToLower(seg)
		}

		segs = append(segs, seg)
	}

	return "/" + strings.Join(segs, "/"), nil
}

// validateSegmentChars enforces "a non-empty string of printable non-/
// characters" from §6.2.
func validateSegmentChars(seg string) error {
	for _, r := range seg {
		if r == '/' {
			return fmt.Errorf("segment %q contains /", seg)
		}

		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("segment %q contains non-printable character", seg)
		}
	}

	return nil
}

// parentScope returns the scope path containing path and the final segment
// name. For "/" it returns ("/", "").
func parentScope(path string) (scope, leaf string) {
	if path == "/" {
		return "/", ""
	}

	idx := strings.LastIndexByte(path, '/')
	leaf = path[idx+1:]

	if idx == 0 {
		return "/", leaf
	}

	return path[:idx], leaf
}

// isUnderScope reports whether path names an object or sub-scope strictly
// under scope. Both arguments must already be normalized.
func isUnderScope(path, scope string) bool {
	if scope == "/" {
		return path != "/"
	}

	return strings.HasPrefix(path, scope+"/")
}
