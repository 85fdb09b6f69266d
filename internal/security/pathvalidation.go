// Package security guards the pipeline's file inputs. Tile snapshot and
// ruleset paths come from operator flags and config files, so they are
// validated before anything is opened.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that escape the given directory,
// including escapes through .. components and symlinked parents. The target
// itself does not have to exist yet.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absSafeDir); err == nil {
		absSafeDir = resolved
	}

	// Resolve the deepest existing ancestor so a symlinked parent cannot
	// smuggle the path out of the safe directory.
	canonical := absPath
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		canonical = resolved
	} else {
		dir, rest := filepath.Dir(absPath), filepath.Base(absPath)
		for dir != filepath.Dir(dir) {
			if resolved, err := filepath.EvalSymlinks(dir); err == nil {
				canonical = filepath.Join(resolved, rest)
				break
			}
			rest = filepath.Join(filepath.Base(dir), rest)
			dir = filepath.Dir(dir)
		}
	}

	rel, err := filepath.Rel(absSafeDir, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes directory %q", filePath, safeDir)
	}
	return nil
}
