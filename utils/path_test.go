package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestIsPathWithin(t *testing.T) {
	root := t.TempDir()
	child := filepath.Join(root, "a", "b.txt")
	outside := filepath.Join(filepath.Dir(root), "outside.txt")

	if !IsPathWithin(child, []string{root}) {
		t.Fatalf("expected %s to be within %s", child, root)
	}
	if !IsPathWithin(root, []string{root}) {
		t.Fatalf("expected root to be within itself")
	}
	if IsPathWithin(outside, []string{root}) {
		t.Fatalf("did not expect %s to be within %s", outside, root)
	}
	if IsPathWithin(root+"-sibling", []string{root}) {
		t.Fatal("a sibling sharing the root prefix is not within the root")
	}
}

func TestIsPathWithinMultipleRoots(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	inB := filepath.Join(rootB, "nested", "file.txt")

	if !IsPathWithin(inB, []string{rootA, rootB}) {
		t.Fatalf("expected path under second root to be within")
	}
}

func TestIsPathWithinFollowsSymlinkedRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(real, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	baseline := filepath.Join(real, "baseline.csv")
	if !IsPathWithin(baseline, []string{link}) {
		t.Fatal("expected a path under the symlink target to be within the linked root")
	}
}

func TestIsPathWithinResolvesMissingPathThroughLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(real, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	report := filepath.Join(link, "reports", "verify.txt")
	if !IsPathWithin(report, []string{real}) {
		t.Fatal("a file not yet created under a link into the root is within the root")
	}
	if IsPathWithin(filepath.Join(filepath.Dir(link), "elsewhere", "r.txt"), []string{real}) {
		t.Fatal("a missing path outside the root is not within it")
	}
}
