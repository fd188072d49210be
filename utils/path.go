package utils

import (
	"path/filepath"
	"strings"
)

// IsPathWithin reports whether path is one of the roots or lies beneath one.
// Both sides are compared after symlink resolution, and a path that does not
// exist yet is resolved through its nearest existing ancestor, so a file about
// to be created is placed where it will actually land.
func IsPathWithin(path string, roots []string) bool {
	target, ok := resolvePath(path)
	if !ok {
		return false
	}
	for _, root := range roots {
		base, ok := resolvePath(root)
		if !ok {
			continue
		}
		rel, err := filepath.Rel(base, target)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func resolvePath(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	var rest []string
	for dir := abs; ; {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, true
		}
		rest = append([]string{filepath.Base(dir)}, rest...)
		dir = parent
	}
}
