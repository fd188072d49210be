package scanner

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	"siv/snapshot"
)

func TestCollectorRejectsUnknownAlgorithm(t *testing.T) {
	if _, err := NewCollector("rot13", nil); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestCollectFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	writeFile(t, path, "hello world")
	c, err := NewCollector("sha256", nil)
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	e, err := c.Collect(context.Background(), path)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if e.Path != path || e.Kind != snapshot.KindFile || e.Size != 11 {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Digest != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Fatalf("unexpected digest %s", e.Digest)
	}
	if runtime.GOOS != "windows" && (e.Owner == "" || e.Group == "") {
		t.Fatalf("expected owner and group, got %q/%q", e.Owner, e.Group)
	}
}

func TestCollectMissingPath(t *testing.T) {
	c, err := NewCollector("md5", nil)
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	_, err = c.Collect(context.Background(), filepath.Join(t.TempDir(), "gone"))
	if !errors.Is(err, ErrUnreadableSource) {
		t.Fatalf("expected ErrUnreadableSource, got %v", err)
	}
}

func TestOwnerCacheFallsBackToNumericID(t *testing.T) {
	c := newOwnerCache()
	if got := c.userName("4294967290"); got != "4294967290" {
		t.Fatalf("expected numeric fallback, got %q", got)
	}
	if got := c.groupName(""); got != "" {
		t.Fatalf("expected empty group, got %q", got)
	}
	if _, ok := c.users["4294967290"]; !ok {
		t.Fatal("expected lookup to be cached")
	}
}
