// Package compare diffs two snapshots in a single ordered pass.
package compare

import (
	"errors"
	"fmt"
	"strings"

	"siv/hasher"
	"siv/snapshot"
)

var (
	// ErrInvariantViolated means an input was not strictly ordered by path.
	ErrInvariantViolated = errors.New("comparison invariant violated")

	// ErrAlgorithmMismatch means the two snapshots were digested differently.
	ErrAlgorithmMismatch = errors.New("digest algorithm mismatch")
)

// ChangeType classifies a difference between baseline and current state.
type ChangeType int

const (
	Added ChangeType = iota
	Removed
	Modified
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return fmt.Sprintf("change(%d)", int(t))
	}
}

func (t ChangeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Field names used as keys of Change.Fields, in reporting order.
const (
	FieldSize        = "size"
	FieldOwner       = "owner"
	FieldGroup       = "group"
	FieldPermissions = "permissions"
	FieldModifiedAt  = "modifiedAt"
	FieldChangedAt   = "changedAt"
	FieldDigest      = "digest"
)

var fieldOrder = []string{FieldSize, FieldOwner, FieldGroup, FieldPermissions, FieldModifiedAt, FieldChangedAt, FieldDigest}

// FieldChange holds the rendered old and new value of one attribute.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Change is one reported difference. Fields is set only for Modified and
// holds just the attributes that differ.
type Change struct {
	Type   ChangeType             `json:"type"`
	Path   string                 `json:"path"`
	Fields map[string]FieldChange `json:"fields,omitempty"`
}

// FieldNames returns the keys of c.Fields in reporting order.
func (c Change) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for _, name := range fieldOrder {
		if _, ok := c.Fields[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Cursor yields entries in strictly increasing path order. ok is false once
// the sequence is exhausted.
type Cursor interface {
	Next() (entry snapshot.Entry, ok bool, err error)
}

// SnapshotCursor iterates an in-memory snapshot.
type SnapshotCursor struct {
	entries []snapshot.Entry
	pos     int
}

func NewSnapshotCursor(s *snapshot.Snapshot) *SnapshotCursor {
	if s == nil {
		return &SnapshotCursor{}
	}
	return &SnapshotCursor{entries: s.Entries}
}

func (c *SnapshotCursor) Next() (snapshot.Entry, bool, error) {
	if c.pos >= len(c.entries) {
		return snapshot.Entry{}, false, nil
	}
	e := c.entries[c.pos]
	c.pos++
	return e, true, nil
}

// orderedCursor rejects a cursor that does not advance strictly.
type orderedCursor struct {
	src   Cursor
	name  string
	prev  string
	begun bool
}

func (c *orderedCursor) next() (snapshot.Entry, bool, error) {
	e, ok, err := c.src.Next()
	if err != nil || !ok {
		return e, ok, err
	}
	if c.begun && strings.Compare(e.Path, c.prev) <= 0 {
		return snapshot.Entry{}, false, fmt.Errorf("%w: %s path %q after %q", ErrInvariantViolated, c.name, e.Path, c.prev)
	}
	c.prev, c.begun = e.Path, true
	return e, true, nil
}

// Merge walks baseline and current in lockstep and calls emit for every
// difference, in path order. Each entry is read exactly once. An error from
// emit stops the merge and is returned unchanged.
func Merge(baseline, current Cursor, emit func(Change) error) error {
	old := &orderedCursor{src: baseline, name: "baseline"}
	cur := &orderedCursor{src: current, name: "current"}

	oldEntry, oldOK, err := old.next()
	if err != nil {
		return err
	}
	curEntry, curOK, err := cur.next()
	if err != nil {
		return err
	}

	for oldOK || curOK {
		var c Change
		changed, advanceOld, advanceCur := true, false, false
		switch {
		case !oldOK:
			c = Change{Type: Added, Path: curEntry.Path}
			advanceCur = true
		case !curOK:
			c = Change{Type: Removed, Path: oldEntry.Path}
			advanceOld = true
		default:
			switch cmp := strings.Compare(oldEntry.Path, curEntry.Path); cmp {
			case 1:
				c = Change{Type: Added, Path: curEntry.Path}
				advanceCur = true
			case -1:
				c = Change{Type: Removed, Path: oldEntry.Path}
				advanceOld = true
			case 0:
				fields := Diff(oldEntry, curEntry)
				c = Change{Type: Modified, Path: curEntry.Path, Fields: fields}
				changed = len(fields) > 0
				advanceOld, advanceCur = true, true
			default:
				return fmt.Errorf("%w: comparison of %q and %q returned %d", ErrInvariantViolated, oldEntry.Path, curEntry.Path, cmp)
			}
		}

		if changed {
			if err := emit(c); err != nil {
				return err
			}
		}
		if advanceOld {
			if oldEntry, oldOK, err = old.next(); err != nil {
				return err
			}
		}
		if advanceCur {
			if curEntry, curOK, err = cur.next(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compare returns every difference between two in-memory snapshots, ordered
// by path. Both must have been digested with the same algorithm.
func Compare(baseline, current *snapshot.Snapshot) ([]Change, error) {
	if baseline != nil && current != nil &&
		hasher.Normalize(baseline.Algorithm) != hasher.Normalize(current.Algorithm) {
		return nil, fmt.Errorf("%w: baseline %s, current %s", ErrAlgorithmMismatch, baseline.Algorithm, current.Algorithm)
	}
	var changes []Change
	err := Merge(NewSnapshotCursor(baseline), NewSnapshotCursor(current), func(c Change) error {
		changes = append(changes, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}
