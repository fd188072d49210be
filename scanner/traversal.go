package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// visitFunc is called once for every path beneath the walk root. Returning
// false for a directory prunes its subtree.
type visitFunc func(path string, d fs.DirEntry) bool

type walker interface {
	Walk(ctx context.Context, root string, visit visitFunc) error
}

// fastWalker is an iterative depth-first walk over os.ReadDir. Directory
// entries report their own type, so symlinks to directories are visited as
// symlinks and never descended into. The root itself is not visited.
type fastWalker struct{}

func (fastWalker) Walk(ctx context.Context, root string, visit visitFunc) error {
	pending := []string{root}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnreadableSource, dir, err)
		}
		var subdirs []string
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if !visit(path, entry) {
				continue
			}
			if entry.IsDir() {
				subdirs = append(subdirs, path)
			}
		}
		// Pushed in reverse so sibling directories are read in name order.
		for i := len(subdirs) - 1; i >= 0; i-- {
			pending = append(pending, subdirs[i])
		}
	}
	return nil
}
