// Package util holds small parsing and path helpers shared by the config
// loader, the event loop and the command.
package util

import (
	"path/filepath"
)

// CombinePaths resolves rel against base. An absolute rel is returned as-is.
func CombinePaths(base, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(base, rel)
}

// ParentPath returns the directory containing path.
func ParentPath(path string) string {
	return filepath.Dir(path)
}
