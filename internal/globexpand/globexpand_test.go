package globexpand

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
}

func TestExpandDoubleStarRecursesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.go", "pkg/b.go", "pkg/sub/c.go")

	matches, err := Expand(dir, "**/*.go")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := map[string]bool{"a.go": true, "pkg/b.go": true, "pkg/sub/c.go": true}
	if len(matches) != len(want) {
		t.Fatalf("expected %d matches, got %v", len(want), matches)
	}
	for _, m := range matches {
		if !want[m] {
			t.Fatalf("unexpected match %q", m)
		}
	}
}

func TestExpandIsSorted(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "z.go", "a.go", "m.go")

	matches, err := Expand(dir, "*.go")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i-1] > matches[i] {
			t.Fatalf("expected sorted matches, got %v", matches)
		}
	}
}

func TestExpandNoMatchesIsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	matches, err := Expand(dir, "*.nonexistent")
	if err != nil {
		t.Fatalf("expected no error for an unmatched glob, got %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %v", matches)
	}
}

func TestAbsExpandReturnsAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.go")

	matches, err := AbsExpand(dir, "a.go")
	if err != nil {
		t.Fatalf("AbsExpand: %v", err)
	}
	if len(matches) != 1 || !filepath.IsAbs(matches[0]) {
		t.Fatalf("expected a single absolute path, got %v", matches)
	}
	if matches[0] != filepath.Join(dir, "a.go") {
		t.Fatalf("unexpected path: %q", matches[0])
	}
}
