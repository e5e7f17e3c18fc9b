package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandTilde replaces a leading ~/ with the user's home directory.
// Paths like ~user/... are left unchanged (only current user's ~ is expanded).
// If $HOME is not set, the path is returned as-is.
func ExpandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home := os.Getenv("HOME")
	if home == "" {
		return path
	}
	return home + path[1:]
}

// Resolve expands a leading tilde and cleans the result. The stdout marker
// "-" and the empty string pass through untouched.
func Resolve(path string) string {
	if path == "" || path == "-" {
		return path
	}
	return filepath.Clean(ExpandTilde(path))
}

// ResolveAll applies Resolve to every path, keeping order.
func ResolveAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = Resolve(p)
	}
	return out
}
