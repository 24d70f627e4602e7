// SPDX-License-Identifier: MPL-2.0

// Package pathguard validates caller-supplied paths and upload filenames before
// they reach the container filesystem.
//
// Sanitize is fail-closed: an input carrying a parent-directory segment or an
// absolute-path escape is rejected as a whole, in any mix of '/' and '\'
// separators. Nothing is ever stripped and returned.
package pathguard

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	// ReasonParentSegment means the input contained a ".." segment.
	ReasonParentSegment TraversalReason = "parent directory segment"
	// ReasonAbsolute means the input was an absolute or drive-qualified path.
	ReasonAbsolute TraversalReason = "absolute path"
	// ReasonOutsideBase means the input resolved outside the base directory.
	ReasonOutsideBase TraversalReason = "outside base directory"
	// ReasonNulByte means the input contained a NUL byte.
	ReasonNulByte TraversalReason = "nul byte"
	// ReasonBadFilename means an upload filename was not a single path segment.
	ReasonBadFilename TraversalReason = "invalid filename"
)

var (
	// ErrPathTraversal is the sentinel wrapped by PathTraversalError.
	ErrPathTraversal = errors.New("Path traversal") //nolint:staticcheck // user-facing text

	// ErrInvalidBase is returned when a Guard base is not a clean absolute path.
	ErrInvalidBase = errors.New("invalid base directory")
)

type (
	// TraversalReason describes why an input was rejected.
	TraversalReason string

	// PathTraversalError is returned when an input would escape the base directory.
	PathTraversalError struct {
		Input  string
		Reason TraversalReason
	}

	// SanitizedPath is a path proven to lie at or beneath a base directory.
	// The zero value is not a valid path; obtain one through Sanitize.
	SanitizedPath struct {
		base string
		rel  string
	}

	// Guard sanitizes paths against a fixed base directory.
	Guard struct {
		base string
	}
)

// Error implements the error interface.
func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("Path traversal: %s in %q", e.Reason, e.Input)
}

// Unwrap returns ErrPathTraversal for errors.Is() compatibility.
func (e *PathTraversalError) Unwrap() error { return ErrPathTraversal }

// NewGuard returns a Guard rooted at base, which must be a clean absolute
// slash-separated path.
func NewGuard(base string) (Guard, error) {
	if base == "" || !strings.HasPrefix(base, "/") || path.Clean(base) != base {
		return Guard{}, fmt.Errorf("%w: %q", ErrInvalidBase, base)
	}
	return Guard{base: base}, nil
}

// Base returns the guard's base directory.
func (g Guard) Base() string { return g.base }

// Sanitize validates raw against the guard's base directory.
func (g Guard) Sanitize(raw string) (SanitizedPath, error) {
	return Sanitize(g.base, raw)
}

// SanitizeUpload validates an upload destination. dir is base-relative in the
// form Rel returns (one leading '/' is allowed) and filename must be a single
// path segment.
func (g Guard) SanitizeUpload(dir, filename string) (SanitizedPath, error) {
	name := strings.ReplaceAll(filename, `\`, "/")
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return SanitizedPath{}, &PathTraversalError{Input: filename, Reason: ReasonBadFilename}
	}
	if strings.IndexByte(name, 0) >= 0 {
		return SanitizedPath{}, &PathTraversalError{Input: filename, Reason: ReasonNulByte}
	}
	dir = strings.TrimPrefix(dir, "/")
	if dir == "" {
		return Sanitize(g.base, name)
	}
	return Sanitize(g.base, strings.TrimSuffix(dir, "/")+"/"+name)
}

// Sanitize converts raw to a canonical path beneath base. Both '/' and '\' count
// as separators. An empty input (or one of only separators and "." segments)
// names base itself.
func Sanitize(base, raw string) (SanitizedPath, error) {
	if strings.IndexByte(raw, 0) >= 0 {
		return SanitizedPath{}, &PathTraversalError{Input: raw, Reason: ReasonNulByte}
	}

	s := strings.ReplaceAll(raw, `\`, "/")
	if strings.HasPrefix(s, "/") || hasDrivePrefix(s) {
		return SanitizedPath{}, &PathTraversalError{Input: raw, Reason: ReasonAbsolute}
	}
	for seg := range strings.SplitSeq(s, "/") {
		if seg == ".." {
			return SanitizedPath{}, &PathTraversalError{Input: raw, Reason: ReasonParentSegment}
		}
	}

	base = path.Clean("/" + strings.ReplaceAll(base, `\`, "/"))
	rel := path.Clean("/" + s)
	full := path.Join(base, rel)
	if !within(base, full) {
		return SanitizedPath{}, &PathTraversalError{Input: raw, Reason: ReasonOutsideBase}
	}
	return SanitizedPath{base: base, rel: RelativePath(base, full)}, nil
}

// String returns the absolute path inside the container.
func (p SanitizedPath) String() string {
	if p.IsZero() {
		return ""
	}
	return path.Join(p.base, p.rel)
}

// Rel returns the path relative to the base directory, with a leading '/'.
func (p SanitizedPath) Rel() string { return p.rel }

// Base returns the base directory the path was validated against.
func (p SanitizedPath) Base() string { return p.base }

// IsZero reports whether p was not produced by Sanitize.
func (p SanitizedPath) IsZero() bool { return p.rel == "" }

// RelativePath strips base from full. full equal to base yields "/"; a path
// outside base is returned unchanged.
func RelativePath(base, full string) string {
	base = strings.TrimSuffix(base, "/")
	switch {
	case full == base || full == base+"/":
		return "/"
	case strings.HasPrefix(full, base+"/"):
		return full[len(base):]
	default:
		return full
	}
}

func within(base, full string) bool {
	if base == "/" {
		return true
	}
	return full == base || strings.HasPrefix(full, base+"/")
}

func hasDrivePrefix(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
