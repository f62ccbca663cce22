// Package files provides the workspace-confined file tools: read_file,
// write_file, list_directory and search_file.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver confines tool-supplied paths to the workspace root.
type Resolver struct {
	Root string
}

// RootAbs returns the absolute workspace root, defaulting to the process
// working directory when unset.
func (r Resolver) RootAbs() (string, error) {
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	return rootAbs, nil
}

// Resolve turns a tool-supplied path into an absolute location and
// rejects anything outside the workspace. Relative paths anchor at the
// root; absolute paths are accepted only when they already sit inside.
func (r Resolver) Resolve(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is required")
	}
	rootAbs, err := r.RootAbs()
	if err != nil {
		return "", err
	}
	target := trimmed
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !within(rootAbs, target) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return target, nil
}

// within reports whether target sits at or below root. Both arguments
// are absolute and cleaned.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
