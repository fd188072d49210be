package scanner

import (
	"context"
	"fmt"
	"os"
	"strings"

	"siv/hasher"
	"siv/logger"
	"siv/snapshot"

	"golang.org/x/time/rate"
)

// Collector turns one filesystem path into a snapshot entry.
type Collector struct {
	algorithm   string
	limiter     *rate.Limiter
	owners      *ownerCache
	changeTimes bool
}

// NewCollector returns a Collector digesting with algorithm. limiter may be
// nil.
func NewCollector(algorithm string, limiter *rate.Limiter) (*Collector, error) {
	if !hasher.Supported(algorithm) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	return &Collector{
		algorithm: hasher.Normalize(algorithm),
		limiter:   limiter,
		owners:    newOwnerCache(),
	}, nil
}

// RecordChangeTimes makes Collect fill Entry.ChangedAt.
func (c *Collector) RecordChangeTimes(enabled bool) {
	c.changeTimes = enabled
}

// Collect lstats path and builds its entry. Regular files are digested over
// their content and symlinks over their target string; directories and
// special files are never opened. Any failure is ErrUnreadableSource.
func (c *Collector) Collect(ctx context.Context, path string) (snapshot.Entry, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return snapshot.Entry{}, fmt.Errorf("%w: %s: %v", ErrUnreadableSource, path, err)
	}
	owner, group, err := c.owners.names(path)
	if err != nil {
		return snapshot.Entry{}, fmt.Errorf("%w: %s: %v", ErrUnreadableSource, path, err)
	}

	modified, changed := fileTimes(info)
	entry := snapshot.Entry{
		Path:        path,
		Kind:        snapshot.KindOfMode(info.Mode()),
		Owner:       owner,
		Group:       group,
		Permissions: snapshot.ModeString(info.Mode()),
		ModifiedAt:  modified,
	}
	if c.changeTimes {
		entry.ChangedAt = changed
	}

	switch entry.Kind {
	case snapshot.KindFile:
		entry.Size = info.Size()
		entry.Digest, err = hasher.DigestFileWithOptions(path, c.algorithm, hasher.Options{
			Limiter: c.limiter,
			Context: ctx,
		})
		if err != nil {
			return snapshot.Entry{}, err
		}
	case snapshot.KindSymlink:
		target, err := os.Readlink(path)
		if err != nil {
			return snapshot.Entry{}, fmt.Errorf("%w: %s: %v", ErrUnreadableSource, path, err)
		}
		entry.Size = int64(len(target))
		entry.Digest, err = hasher.Digest(strings.NewReader(target), c.algorithm)
		if err != nil {
			return snapshot.Entry{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	if logger.IsDebug() {
		logger.WithFields(map[string]interface{}{
			"path": path,
			"kind": entry.Kind.String(),
			"size": entry.Size,
		}).Debug("collected entry")
	}
	return entry, nil
}
