package container

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/ttserr"
)

func TestRunRejectsReservedVolumePath(t *testing.T) {
	_, err := Run(context.Background(), nil, RunOptions{
		Volumes: []recipe.VolumeBind{{Host: "/data", Container: ReservedStatePath}},
	})
	ttErr, ok := err.(*ttserr.Error)
	if !ok || ttErr.Kind != ttserr.KindReservedVolumePath {
		t.Fatalf("expected KindReservedVolumePath, got %v", err)
	}
}

func TestTarContextIncludesDockerfileAndContextFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.py"), []byte("print('hi')"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := tarContext(dir, []byte("FROM alpine"))
	if err != nil {
		t.Fatalf("tarContext: %v", err)
	}

	names := map[string][]byte{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("tar content read: %v", err)
		}
		names[hdr.Name] = data
	}

	if string(names["Dockerfile.tt"]) != "FROM alpine" {
		t.Fatalf("expected the Dockerfile content under Dockerfile.tt, got %q", names["Dockerfile.tt"])
	}
	if string(names["app.py"]) != "print('hi')" {
		t.Fatalf("expected the context directory file to be included, got %q", names["app.py"])
	}
}

func TestTarContextWithoutContextDirOnlyHasDockerfile(t *testing.T) {
	r, err := tarContext("", []byte("FROM alpine"))
	if err != nil {
		t.Fatalf("tarContext: %v", err)
	}
	tr := tar.NewReader(r)
	var count int
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected only the Dockerfile entry when no context dir is set, got %d entries", count)
	}
}

func TestToBuildArgPtrsPreservesValues(t *testing.T) {
	ptrs := toBuildArgPtrs(map[string]string{"VERSION": "1.2.3"})
	v, ok := ptrs["VERSION"]
	if !ok || v == nil || *v != "1.2.3" {
		t.Fatalf("unexpected build args: %+v", ptrs)
	}
}

func TestHostUIDGIDOnPOSIX(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("UID:GID mapping does not apply on windows")
	}
	if hostUIDGID() == "" {
		t.Fatal("expected a non-empty uid:gid string on a POSIX host")
	}
}
