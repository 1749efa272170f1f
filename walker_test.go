package anvil

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkFilesDepthBound(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "top.go"))
	mustWrite(t, filepath.Join(dir, "pkg", "inner.go"))
	mustWrite(t, filepath.Join(dir, "pkg", "deep", "nested.go"))

	depth1, err := WalkFiles(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(depth1, []string{"top.go"}) {
		t.Errorf("depth 1 = %v", depth1)
	}

	depth2, err := WalkFiles(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(depth2, []string{"pkg/inner.go", "top.go"}) {
		t.Errorf("depth 2 = %v", depth2)
	}

	depth3, err := WalkFiles(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(depth3, []string{"pkg/deep/nested.go", "pkg/inner.go", "top.go"}) {
		t.Errorf("depth 3 = %v", depth3)
	}
}

func TestWalkFilesSkipsHiddenAndDependencyDirs(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "keep.go"))
	mustWrite(t, filepath.Join(dir, ".git", "config"))
	mustWrite(t, filepath.Join(dir, "node_modules", "lib.js"))
	mustWrite(t, filepath.Join(dir, ".hidden"))

	files, err := WalkFiles(dir, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(files, []string{"keep.go"}) {
		t.Errorf("files = %v", files)
	}
}
