package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver confines a relative path to a workspace root, rejecting attempts to
// escape it via "..".
type Resolver struct {
	Root string
}

// Resolve joins path onto the workspace root and rejects any result outside it.
func (r Resolver) Resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	root := r.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	joined := filepath.Join(absRoot, path)
	if joined != absRoot && !strings.HasPrefix(joined, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return joined, nil
}

// protectedPaths lists directories a destructive tool must never be allowed to
// target directly, even when the workspace resolver would otherwise accept the
// path (spec.md §7: "attempt to delete/move a root, system directory, or
// user-profile root").
func protectedPaths() []string {
	var protected []string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		protected = append(protected, filepath.Clean(home))
	}
	switch {
	case os.PathSeparator == '\\':
		protected = append(protected, `C:\`, `C:\Windows`, `C:\Windows\System32`)
	default:
		protected = append(protected, "/", "/etc", "/usr", "/bin", "/sbin", "/var", "/root")
	}
	return protected
}

// CheckPathSafety resolves symlinks on resolved (when possible) and rejects it
// if it names the workspace root, the filesystem root, a well-known system
// directory, or the user's home directory (spec.md §7). Symlinks are resolved
// before the comparison so a symlink cannot be used to point a destructive
// operation at a protected location.
func CheckPathSafety(resolved, workspaceRoot string) error {
	target := resolved
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		target = real
	}
	target = filepath.Clean(target)

	if absRoot, err := filepath.Abs(workspaceRoot); err == nil {
		if realRoot, err := filepath.EvalSymlinks(absRoot); err == nil {
			absRoot = realRoot
		}
		if target == filepath.Clean(absRoot) {
			return fmt.Errorf("refusing to operate on the workspace root %q", resolved)
		}
	}
	for _, p := range protectedPaths() {
		if target == p {
			return fmt.Errorf("refusing to operate on protected path %q", resolved)
		}
	}
	return nil
}
