package tools

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// resolvePath canonicalizes path and checks it falls under the workspace or
// one of the extra roots. Relative paths are taken relative to the workspace.
// Symlinks are resolved through the deepest existing ancestor so that paths
// whose leaf does not exist yet can still be confined.
func resolvePath(path, workspace string, extraRoots []string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", faults.New(faults.InvalidArguments, "path is required")
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspace, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolveThroughExistingAncestors(candidate)
	if err != nil {
		return "", faults.New(faults.PathNotAllowed, "cannot resolve %q", path)
	}

	roots := make([]string, 0, 1+len(extraRoots))
	roots = append(roots, workspace)
	roots = append(roots, extraRoots...)
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		realRoot, err := resolveThroughExistingAncestors(filepath.Clean(root))
		if err != nil {
			continue
		}
		if isPathInside(resolved, realRoot) {
			return resolved, nil
		}
	}
	slog.Warn("security.path_escape", "path", path, "resolved", resolved, "workspace", workspace)
	return "", faults.New(faults.PathNotAllowed, "path %q is outside the allowed roots", path)
}

// resolveThroughExistingAncestors canonicalizes target by walking up to the
// deepest existing ancestor, resolving its symlinks, then re-appending the
// non-existent tail.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return "", os.ErrNotExist
		}
		tail = append(tail, filepath.Base(current))
		current = parent
		if real, err := filepath.EvalSymlinks(current); err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				real = filepath.Join(real, tail[i])
			}
			return real, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
}

// isPathInside reports whether candidate equals root or sits below it.
func isPathInside(candidate, root string) bool {
	if candidate == root {
		return true
	}
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
