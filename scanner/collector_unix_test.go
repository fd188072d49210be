//go:build !windows

package scanner

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"

	"siv/snapshot"
)

func TestCollectSpecialFileIsNotOpened(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fifo")
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		t.Skipf("mkfifo unavailable: %v", err)
	}
	c, err := NewCollector("sha256", nil)
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	// Opening a FIFO without a writer would block forever.
	e, err := c.Collect(context.Background(), path)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if e.Kind != snapshot.KindSpecial || e.Digest != "" || e.Size != 0 || e.Permissions != "prw-------" {
		t.Fatalf("unexpected special entry %+v", e)
	}
}
