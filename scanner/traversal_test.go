package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestFastWalkerSkipsRootAndPrunes(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"keep", "skip", filepath.Join("keep", "inner")} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	writeFile(t, filepath.Join(root, "keep", "inner", "x.txt"), "x")
	writeFile(t, filepath.Join(root, "skip", "y.txt"), "y")

	var seen []string
	err := fastWalker{}.Walk(context.Background(), root, func(path string, d fs.DirEntry) bool {
		rel, _ := filepath.Rel(root, path)
		seen = append(seen, rel)
		return rel != "skip"
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	want := map[string]bool{
		"keep": true, "skip": true,
		filepath.Join("keep", "inner"):          true,
		filepath.Join("keep", "inner", "x.txt"): true,
	}
	if len(seen) != len(want) {
		t.Fatalf("visited %v, want %d paths", seen, len(want))
	}
	for _, p := range seen {
		if !want[p] {
			t.Fatalf("unexpected visit %q", p)
		}
	}
}

func TestFastWalkerUnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root := t.TempDir()
	locked := filepath.Join(root, "locked")
	if err := os.Mkdir(locked, 0); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	defer os.Chmod(locked, 0o755)

	err := fastWalker{}.Walk(context.Background(), root, func(string, fs.DirEntry) bool { return true })
	if !errors.Is(err, ErrUnreadableSource) {
		t.Fatalf("expected ErrUnreadableSource, got %v", err)
	}
}

func TestFastWalkerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastWalker{}.Walk(ctx, t.TempDir(), func(string, fs.DirEntry) bool { return true })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
