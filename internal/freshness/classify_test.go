package freshness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tasktreehq/tt/internal/graph"
	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/ttio"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
}

func buildNode(dir string, inputs []recipe.IOEntry) *graph.Node {
	return &graph.Node{
		Task:            &recipe.Task{Name: "build"},
		WorkingDir:      dir,
		EffectiveInputs: inputs,
		Outputs:         []recipe.IOEntry{{Glob: "out.txt"}},
		DefinitionHash:  "defhash",
		ArgBindingHash:  "arghash",
	}
}

func TestClassifyNoPriorStateIsStale(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a")

	eng := &Engine{FS: ttio.OSFileSystem{}, Clock: ttio.SystemClock{}}
	node := buildNode(dir, []recipe.IOEntry{{Glob: "a.go"}})
	store := NewStore(ttio.OSFileSystem{}, dir)

	res, err := eng.Classify(node, store, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.Stale || res.Reason != "no prior state entry" {
		t.Fatalf("expected a stale result with no prior state, got %+v", res)
	}
}

func TestClassifyUnchangedInputsIsFresh(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a")

	eng := &Engine{FS: ttio.OSFileSystem{}, Clock: ttio.SystemClock{}}
	node := buildNode(dir, []recipe.IOEntry{{Glob: "a.go"}})
	store := NewStore(ttio.OSFileSystem{}, dir)

	first, err := eng.Classify(node, store, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	store.Upsert(node.DefinitionHash, node.ArgBindingHash, 1, first.Inputs)

	second, err := eng.Classify(node, store, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if second.Stale {
		t.Fatalf("expected a fresh result once inputs are recorded unchanged, got %+v", second)
	}
}

func TestClassifyModifiedInputIsStale(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a")

	eng := &Engine{FS: ttio.OSFileSystem{}, Clock: ttio.SystemClock{}}
	node := buildNode(dir, []recipe.IOEntry{{Glob: "a.go"}})
	store := NewStore(ttio.OSFileSystem{}, dir)

	// Record a stored mtime far older than the file's real mtime on disk,
	// regardless of filesystem mtime granularity on the test runner.
	store.Upsert(node.DefinitionHash, node.ArgBindingHash, 1, map[string]int64{filepath.Join(dir, "a.go"): 1})

	second, err := eng.Classify(node, store, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !second.Stale {
		t.Fatal("expected a newer input to mark the node stale")
	}
}

func TestClassifyForceIsAlwaysStale(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a")

	eng := &Engine{FS: ttio.OSFileSystem{}, Clock: ttio.SystemClock{}}
	node := buildNode(dir, []recipe.IOEntry{{Glob: "a.go"}})
	store := NewStore(ttio.OSFileSystem{}, dir)
	store.Upsert(node.DefinitionHash, node.ArgBindingHash, 1, map[string]int64{filepath.Join(dir, "a.go"): 1})

	res, err := eng.Classify(node, store, true)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.Stale || res.Reason != "forced" {
		t.Fatalf("expected a forced stale result, got %+v", res)
	}
}

func TestClassifyNoInputsOrOutputsIsAlwaysStale(t *testing.T) {
	dir := t.TempDir()
	eng := &Engine{FS: ttio.OSFileSystem{}, Clock: ttio.SystemClock{}}
	node := &graph.Node{
		Task: &recipe.Task{Name: "notify"}, WorkingDir: dir,
		DefinitionHash: "d", ArgBindingHash: "a",
	}
	store := NewStore(ttio.OSFileSystem{}, dir)
	store.Upsert("d", "a", 1, map[string]int64{})

	res, err := eng.Classify(node, store, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.Stale || res.Reason != "no inputs or outputs declared" {
		t.Fatalf("expected a task with no declared inputs/outputs to always run, got %+v", res)
	}
}

func TestClassifyCascadesFromExecutedDependency(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a")

	eng := &Engine{FS: ttio.OSFileSystem{}, Clock: ttio.SystemClock{}}
	dep := buildNode(dir, []recipe.IOEntry{{Glob: "a.go"}})
	dep.Executed = true

	node := buildNode(dir, []recipe.IOEntry{{Glob: "a.go"}})
	node.Deps = []*graph.Node{dep}
	store := NewStore(ttio.OSFileSystem{}, dir)
	store.Upsert(node.DefinitionHash, node.ArgBindingHash, 1, map[string]int64{filepath.Join(dir, "a.go"): 1})

	res, err := eng.Classify(node, store, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.Stale {
		t.Fatal("expected a node whose dependency ran this invocation to cascade stale")
	}
}

func TestClassifyMissingGlobIsWarningNotError(t *testing.T) {
	dir := t.TempDir()
	eng := &Engine{FS: ttio.OSFileSystem{}, Clock: ttio.SystemClock{}}
	node := buildNode(dir, []recipe.IOEntry{{Glob: "nothing-*.go"}})
	store := NewStore(ttio.OSFileSystem{}, dir)

	res, err := eng.Classify(node, store, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning for a glob matching nothing")
	}
}
