package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"siv/logger"
	"siv/snapshot"
)

func init() {
	logger.Init("error")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestBuildProducesOrderedSnapshot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"), "bee")
	writeFile(t, filepath.Join(root, "a", "z.txt"), "zed")
	writeFile(t, filepath.Join(root, "a", "b", "c.txt"), "sea")
	writeFile(t, filepath.Join(root, "a-b"), "dash")

	res, err := Build(context.Background(), root, "sha256", WithConcurrency(3))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := res.Snapshot.CheckOrder(); err != nil {
		t.Fatalf("order: %v", err)
	}
	if res.Snapshot.Algorithm != "sha256" {
		t.Fatalf("unexpected algorithm %q", res.Snapshot.Algorithm)
	}
	if res.Files != 4 || res.Directories != 2 {
		t.Fatalf("unexpected counters: files=%d dirs=%d", res.Files, res.Directories)
	}
	if res.Bytes != int64(len("bee")+len("zed")+len("sea")+len("dash")) {
		t.Fatalf("unexpected byte count %d", res.Bytes)
	}
	if _, ok := res.Snapshot.Lookup(root); ok {
		t.Fatal("root must not be an entry")
	}

	e, ok := res.Snapshot.Lookup(filepath.Join(root, "a", "z.txt"))
	if !ok {
		t.Fatal("missing a/z.txt")
	}
	if e.Kind != snapshot.KindFile || e.Size != 3 || e.Digest != sha256Hex("zed") {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Permissions[0] != '-' {
		t.Fatalf("unexpected permissions %q", e.Permissions)
	}
	if e.ModifiedAt.Location().String() != "UTC" {
		t.Fatalf("expected UTC modification time, got %v", e.ModifiedAt.Location())
	}
	for _, entry := range res.Snapshot.Entries {
		if err := entry.Validate(); err != nil {
			t.Fatalf("invalid entry: %v", err)
		}
	}

	d, ok := res.Snapshot.Lookup(filepath.Join(root, "a"))
	if !ok || d.Kind != snapshot.KindDirectory || d.Digest != "" || d.Size != 0 {
		t.Fatalf("unexpected directory entry %+v", d)
	}
}

func TestBuildIsRepeatable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "one"), "1")
	writeFile(t, filepath.Join(root, "sub", "two"), "2")

	first, err := Build(context.Background(), root, "blake3")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := Build(context.Background(), root, "BLAKE3", WithConcurrency(1))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(first.Snapshot.Entries) != len(second.Snapshot.Entries) {
		t.Fatalf("entry counts differ")
	}
	for i := range first.Snapshot.Entries {
		a, b := first.Snapshot.Entries[i], second.Snapshot.Entries[i]
		if a.Path != b.Path || a.Digest != b.Digest || !a.ModifiedAt.Equal(b.ModifiedAt) {
			t.Fatalf("entries differ: %+v vs %+v", a, b)
		}
	}
}

func TestBuildSymlinkNotFollowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret"), "data")
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	res, err := Build(context.Background(), root, "sha256")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(res.Snapshot.Entries) != 1 || res.Symlinks != 1 {
		t.Fatalf("expected only the link entry, got %+v", res.Snapshot.Entries)
	}
	e := res.Snapshot.Entries[0]
	if e.Kind != snapshot.KindSymlink || e.Permissions[0] != 'l' {
		t.Fatalf("unexpected symlink entry %+v", e)
	}
	if e.Digest != sha256Hex(outside) || e.Size != int64(len(outside)) {
		t.Fatalf("symlink digest should cover the target string: %+v", e)
	}
}

func TestBuildExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "k")
	writeFile(t, filepath.Join(root, "skip.log"), "s")
	writeFile(t, filepath.Join(root, "cache", "inner.txt"), "i")

	res, err := Build(context.Background(), root, "md5", WithExcludes([]string{"*.log", "cache"}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(res.Snapshot.Entries) != 1 || res.Snapshot.Entries[0].Path != filepath.Join(root, "keep.txt") {
		t.Fatalf("unexpected entries %+v", res.Snapshot.Entries)
	}
}

func TestBuildEmptyDirectory(t *testing.T) {
	res, err := Build(context.Background(), t.TempDir(), "sha1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.Snapshot.Len() != 0 {
		t.Fatalf("expected empty snapshot, got %d entries", res.Snapshot.Len())
	}
}

func TestBuildRootValidation(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file")
	writeFile(t, file, "x")

	if _, err := Build(context.Background(), filepath.Join(root, "missing"), "sha256"); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("expected ErrPathNotFound, got %v", err)
	}
	if _, err := Build(context.Background(), file, "sha256"); !errors.Is(err, ErrNotADirectory) {
		t.Fatalf("expected ErrNotADirectory, got %v", err)
	}
	if _, err := Build(context.Background(), root, "crc32"); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestBuildUnreadableFileFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}
	root := t.TempDir()
	path := filepath.Join(root, "locked")
	writeFile(t, path, "secret")
	if err := os.Chmod(path, 0); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	defer os.Chmod(path, 0o644)

	res, err := Build(context.Background(), root, "sha256")
	if !errors.Is(err, ErrUnreadableSource) {
		t.Fatalf("expected ErrUnreadableSource, got %v", err)
	}
	if res != nil {
		t.Fatal("no partial result expected")
	}
}

func TestBuildCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Build(ctx, root, "sha256"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuildWithRateLimit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), "a")
	res, err := Build(context.Background(), root, "xxh3_64", WithMaxIOPerSecond(1000))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.Files != 1 {
		t.Fatalf("expected one file, got %d", res.Files)
	}
}

func TestBuildCounter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "d", "b.txt"), "b")

	var counter atomic.Int64
	res, err := Build(context.Background(), root, "sha256", WithCounter(&counter))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := int64(2 * res.Snapshot.Len())
	if got := counter.Load(); got != want {
		t.Fatalf("expected counter %d (listed plus collected), got %d", want, got)
	}
}

func TestBuildChangeTimes(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("inode change times are not exposed on this platform")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	res, err := Build(context.Background(), root, "sha256")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.Snapshot.ChangeTimes || !res.Snapshot.Entries[0].ChangedAt.IsZero() {
		t.Fatal("change times must be off by default")
	}

	res, err = Build(context.Background(), root, "sha256", WithChangeTimes(true))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !res.Snapshot.ChangeTimes {
		t.Fatal("snapshot must be marked as recording change times")
	}
	e := res.Snapshot.Entries[0]
	if e.ChangedAt.IsZero() || e.ChangedAt.Location() != time.UTC {
		t.Fatalf("expected a UTC change time, got %v", e.ChangedAt)
	}
}
