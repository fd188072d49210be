// Package snapshot holds the entry and snapshot types shared by the builder
// and the comparator, and the codec that persists a snapshot as a baseline.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Kind classifies a filesystem object.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
	KindSpecial
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindSpecial:
		return "special"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HasDigest reports whether entries of this kind carry a content digest.
func (k Kind) HasDigest() bool {
	return k == KindFile || k == KindSymlink
}

// HasSize reports whether the size field is meaningful for this kind.
func (k Kind) HasSize() bool {
	return k == KindFile || k == KindSymlink
}

// Entry is one filesystem object captured at scan time.
type Entry struct {
	Path        string    `json:"path"`
	Kind        Kind      `json:"kind"`
	Size        int64     `json:"size"`
	Owner       string    `json:"owner"`
	Group       string    `json:"group"`
	Permissions string    `json:"permissions"`
	ModifiedAt  time.Time `json:"modified_at"`
	// Digest is lower-case hex; empty means absent.
	Digest string `json:"digest,omitempty"`
	// ChangedAt is the inode change time. Zero when not recorded or not
	// supported by the platform.
	ChangedAt time.Time `json:"changed_at,omitzero"`
}

var (
	// ErrOrder marks a sequence that is not strictly increasing by path.
	ErrOrder = errors.New("entries not strictly ordered by path")

	// ErrInvalidEntry marks an entry whose fields contradict its kind.
	ErrInvalidEntry = errors.New("invalid entry")
)

// Validate checks the per-entry invariants.
func (e Entry) Validate() error {
	if e.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidEntry)
	}
	if e.Size < 0 {
		return fmt.Errorf("%w: %s: negative size %d", ErrInvalidEntry, e.Path, e.Size)
	}
	if e.Kind.HasDigest() && e.Digest == "" {
		return fmt.Errorf("%w: %s: %s without digest", ErrInvalidEntry, e.Path, e.Kind)
	}
	if !e.Kind.HasDigest() && e.Digest != "" {
		return fmt.Errorf("%w: %s: %s with digest", ErrInvalidEntry, e.Path, e.Kind)
	}
	if kind, ok := KindOf(e.Permissions); !ok || kind != e.Kind {
		return fmt.Errorf("%w: %s: permissions %q do not match %s", ErrInvalidEntry, e.Path, e.Permissions, e.Kind)
	}
	return nil
}

// Snapshot is the ordered set of entries under one root, together with the
// digest algorithm every digest in it was computed with. It is not modified
// after construction.
type Snapshot struct {
	Algorithm string
	// ChangeTimes marks snapshots whose entries record inode change times.
	ChangeTimes bool
	// Root is the monitored directory. It is informational and not persisted.
	Root    string
	Entries []Entry
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// CheckOrder verifies that paths are strictly increasing.
func (s *Snapshot) CheckOrder() error {
	for i := 1; i < len(s.Entries); i++ {
		if s.Entries[i-1].Path >= s.Entries[i].Path {
			return fmt.Errorf("%w: %q then %q", ErrOrder, s.Entries[i-1].Path, s.Entries[i].Path)
		}
	}
	return nil
}

// Lookup finds the entry for path by binary search.
func (s *Snapshot) Lookup(path string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	i := sort.Search(len(s.Entries), func(i int) bool { return s.Entries[i].Path >= path })
	if i < len(s.Entries) && s.Entries[i].Path == path {
		return s.Entries[i], true
	}
	return Entry{}, false
}

// SortEntries orders entries by path in place.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}
