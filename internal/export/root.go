package export

import (
	"fmt"
	"path/filepath"
)

// FindRoot walks upward from start and returns the first directory holding
// a marker directory, for example .git. A marker that is a plain file (git
// worktrees, submodules) does not count.
func FindRoot(start, marker string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoRoot, err)
	}
	for {
		if isDirectory(filepath.Join(dir, marker)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: %s above %s", ErrNoRoot, marker, start)
		}
		dir = parent
	}
}
