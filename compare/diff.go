package compare

import (
	"strconv"
	"time"

	"siv/snapshot"
)

// Diff compares the tracked attributes of two entries for the same path and
// returns those that differ. An empty map means the entries match. Change
// times are compared only when both entries recorded one.
func Diff(old, cur snapshot.Entry) map[string]FieldChange {
	fields := make(map[string]FieldChange)
	if old.Size != cur.Size || old.Kind.HasSize() != cur.Kind.HasSize() {
		fields[FieldSize] = FieldChange{Old: renderSize(old), New: renderSize(cur)}
	}
	if old.Owner != cur.Owner {
		fields[FieldOwner] = FieldChange{Old: old.Owner, New: cur.Owner}
	}
	if old.Group != cur.Group {
		fields[FieldGroup] = FieldChange{Old: old.Group, New: cur.Group}
	}
	if old.Permissions != cur.Permissions {
		fields[FieldPermissions] = FieldChange{Old: old.Permissions, New: cur.Permissions}
	}
	if !old.ModifiedAt.Equal(cur.ModifiedAt) {
		fields[FieldModifiedAt] = FieldChange{Old: renderTime(old.ModifiedAt), New: renderTime(cur.ModifiedAt)}
	}
	if !old.ChangedAt.IsZero() && !cur.ChangedAt.IsZero() && !old.ChangedAt.Equal(cur.ChangedAt) {
		fields[FieldChangedAt] = FieldChange{Old: renderTime(old.ChangedAt), New: renderTime(cur.ChangedAt)}
	}
	if old.Digest != cur.Digest {
		fields[FieldDigest] = FieldChange{Old: old.Digest, New: cur.Digest}
	}
	return fields
}

func renderSize(e snapshot.Entry) string {
	if !e.Kind.HasSize() {
		return ""
	}
	return strconv.FormatInt(e.Size, 10)
}

func renderTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Summary aggregates a change list. Warnings counts one per added or removed
// path and one per differing attribute of a modified path.
type Summary struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
	Warnings int `json:"warnings"`
}

// Add folds one change into the summary.
func (s *Summary) Add(c Change) {
	switch c.Type {
	case Added:
		s.Added++
		s.Warnings++
	case Removed:
		s.Removed++
		s.Warnings++
	case Modified:
		s.Modified++
		s.Warnings += len(c.Fields)
	}
}

// Changed reports whether any difference was recorded.
func (s Summary) Changed() bool {
	return s.Added+s.Removed+s.Modified > 0
}

// Summarize builds the summary of changes.
func Summarize(changes []Change) Summary {
	var s Summary
	for _, c := range changes {
		s.Add(c)
	}
	return s
}
