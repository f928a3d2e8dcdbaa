// Package globexpand expands ** capable glob patterns, used by the
// Freshness Engine to enumerate a task's effective inputs. path/filepath.Glob cannot express "**", which
// recipes routinely need for recursive source trees, so this wraps
// doublestar instead.
package globexpand

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Expand expands pattern relative to workingDir and returns matches as
// paths relative to workingDir, sorted for determinism. A pattern that
// matches nothing returns an empty, non-error result; the caller is
// responsible for logging a warning if that matters to it.
func Expand(workingDir, pattern string) ([]string, error) {
	if workingDir == "" {
		workingDir = "."
	}
	fsys := os.DirFS(workingDir)

	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// AbsExpand expands pattern relative to workingDir and returns absolute paths.
func AbsExpand(workingDir, pattern string) ([]string, error) {
	matches, err := Expand(workingDir, pattern)
	if err != nil {
		return nil, err
	}
	abs := make([]string, len(matches))
	for i, m := range matches {
		p, err := filepath.Abs(filepath.Join(workingDir, m))
		if err != nil {
			return nil, err
		}
		abs[i] = p
	}
	return abs, nil
}
