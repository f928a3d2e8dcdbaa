package ttio

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestOSFileSystemWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs := OSFileSystem{}
	path := filepath.Join(dir, "f.txt")

	if err := fs.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected contents: %q", data)
	}
}

func TestOSFileSystemRenameAndRemove(t *testing.T) {
	dir := t.TempDir()
	fs := OSFileSystem{}
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	if err := fs.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fs.Rename(src, dst); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := fs.Stat(dst); err != nil {
		t.Fatalf("expected the renamed file to exist: %v", err)
	}
	if err := fs.Remove(dst); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := fs.Stat(dst); err == nil {
		t.Fatal("expected the file to be gone after Remove")
	}
}

func TestOSFileSystemGlobDefaultsToFilepathGlob(t *testing.T) {
	dir := t.TempDir()
	fs := OSFileSystem{}
	if err := fs.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	matches, err := fs.Glob(dir, "*.txt")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %v", matches)
	}
}

func TestOSFileSystemGlobUsesInjectedFunc(t *testing.T) {
	called := false
	fs := OSFileSystem{GlobFunc: func(workingDir, pattern string) ([]string, error) {
		called = true
		return []string{"custom"}, nil
	}}
	matches, err := fs.Glob(".", "*.go")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if !called || len(matches) != 1 || matches[0] != "custom" {
		t.Fatalf("expected the injected glob func to be used, got %v (called=%v)", matches, called)
	}
}

func TestOSFileSystemTempFileIsInRequestedDir(t *testing.T) {
	dir := t.TempDir()
	fs := OSFileSystem{}
	f, err := fs.TempFile(dir, "tt-*.tmp")
	if err != nil {
		t.Fatalf("TempFile: %v", err)
	}
	defer f.Close()
	if filepath.Dir(f.Name()) != dir {
		t.Fatalf("expected the temp file to live in %q, got %q", dir, f.Name())
	}
}

func TestOSEnvironmentGetenv(t *testing.T) {
	t.Setenv("TT_TEST_VAR", "value")
	env := OSEnvironment{}
	v, ok := env.Getenv("TT_TEST_VAR")
	if !ok || v != "value" {
		t.Fatalf("expected TT_TEST_VAR=value, got %q, %v", v, ok)
	}
	if _, ok := env.Getenv("TT_TEST_VAR_DOES_NOT_EXIST"); ok {
		t.Fatal("expected an unset variable to report ok=false")
	}
}

func TestOSEnvironmentEnvironIncludesSetVars(t *testing.T) {
	t.Setenv("TT_TEST_ENVIRON", "present")
	env := OSEnvironment{}
	found := false
	for _, kv := range env.Environ() {
		if kv == "TT_TEST_ENVIRON=present" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected Environ() to include the set variable")
	}
}

func TestOSProcessSpawnerCapturesStdoutAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell invocation")
	}
	spawner := OSProcessSpawner{}
	result, err := spawner.Spawn(context.Background(), SpawnOptions{
		Args: []string{"/bin/sh", "-c", "echo hi; exit 0"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
	if result.Stdout != "hi\n" {
		t.Fatalf("expected captured stdout %q, got %q", "hi\n", result.Stdout)
	}
}

func TestOSProcessSpawnerNonzeroExitIsNotAnError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell invocation")
	}
	spawner := OSProcessSpawner{}
	result, err := spawner.Spawn(context.Background(), SpawnOptions{
		Args: []string{"/bin/sh", "-c", "exit 7"},
	})
	if err != nil {
		t.Fatalf("expected a nonzero exit to be reported via SpawnResult, not an error: %v", err)
	}
	if result.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", result.ExitCode)
	}
}

func TestOSProcessSpawnerEmptyArgsIsInvalid(t *testing.T) {
	spawner := OSProcessSpawner{}
	_, err := spawner.Spawn(context.Background(), SpawnOptions{})
	if err != os.ErrInvalid {
		t.Fatalf("expected os.ErrInvalid for empty args, got %v", err)
	}
}
