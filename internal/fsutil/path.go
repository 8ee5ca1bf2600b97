package fsutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateWithinDir returns an error unless path resolves to a location
// inside dir. Symlinks along the existing portion of the path are
// resolved first, so a planted link cannot smuggle the target outside
// dir even when the final file does not exist yet.
func ValidateWithinDir(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving directory: %w", err)
	}

	canonDir := absDir
	if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
		canonDir = resolved
	}

	rel, err := filepath.Rel(canonDir, resolveExisting(absPath))
	if err != nil {
		return fmt.Errorf("path outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of
// path and rejoins the rest, so validation also covers files that are
// about to be created.
func resolveExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	dir := filepath.Dir(path)
	if dir == path {
		return path
	}
	return filepath.Join(resolveExisting(dir), filepath.Base(path))
}

// SafeJoin joins elems onto root and verifies the result stays inside
// root. Elements may come straight from request paths, so any that is
// empty, a dot name, or contains a separator is rejected outright.
func SafeJoin(root string, elems ...string) (string, error) {
	for _, e := range elems {
		if e == "" || e == "." || e == ".." || strings.ContainsAny(e, `/\`) {
			return "", fmt.Errorf("invalid path element %q", e)
		}
	}
	joined := filepath.Join(append([]string{root}, elems...)...)
	if err := ValidateWithinDir(joined, root); err != nil {
		return "", err
	}
	return joined, nil
}
