// Package scanner walks a directory tree and builds the ordered snapshot of
// everything beneath it.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"siv/hasher"
	"siv/logger"
	"siv/snapshot"
	"siv/tracing"
	"siv/utils"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Options tune a build. The zero value scans everything with one worker per
// CPU and no progress output.
type Options struct {
	Excludes       []string
	Concurrency    int
	MaxIOPerSecond int
	Progress       bool
	ChangeTimes    bool
	// Counter, when set, is incremented once per path listed and once per
	// entry collected so a watchdog can tell a stalled build from a slow one.
	Counter *atomic.Int64
}

type Option func(*Options)

// WithExcludes prunes paths matching any pattern. Globs match the base name
// and regular expressions match the full path; a matching directory is
// skipped with everything beneath it.
func WithExcludes(patterns []string) Option {
	return func(o *Options) { o.Excludes = append([]string(nil), patterns...) }
}

func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

// WithMaxIOPerSecond caps content reads per second across all workers.
func WithMaxIOPerSecond(n int) Option {
	return func(o *Options) { o.MaxIOPerSecond = n }
}

func WithProgress(enabled bool) Option {
	return func(o *Options) { o.Progress = enabled }
}

// WithChangeTimes records inode change times in every entry.
func WithChangeTimes(enabled bool) Option {
	return func(o *Options) { o.ChangeTimes = enabled }
}

func WithCounter(c *atomic.Int64) Option {
	return func(o *Options) { o.Counter = c }
}

// Result is a completed build together with its counters.
type Result struct {
	Snapshot    *snapshot.Snapshot
	Directories int
	Files       int
	Symlinks    int
	Special     int
	// Bytes is the total size of regular files.
	Bytes   int64
	Elapsed time.Duration
}

// Build captures every filesystem object strictly beneath root. The returned
// snapshot is sorted by path; any unreadable entry fails the whole build and
// no partial snapshot is returned.
func Build(ctx context.Context, root, algorithm string, opts ...Option) (*Result, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.NumCPU()
	}

	if !hasher.Supported(algorithm) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	root, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}

	ctx, endTask := tracing.StartTask(ctx, "scanner.Build")
	defer endTask()
	start := time.Now()

	logger.Infof("Scanning %s", root)
	matcher := utils.NewPatternMatcher(o.Excludes)
	paths, err := listPaths(ctx, fastWalker{}, root, matcher, o.Counter)
	if err != nil {
		return nil, err
	}
	logger.Infof("Found %d entries under %s", len(paths), root)

	var ioLimiter *rate.Limiter
	if o.MaxIOPerSecond > 0 {
		ioLimiter = rate.NewLimiter(rate.Limit(o.MaxIOPerSecond), o.MaxIOPerSecond)
	}
	collector, err := NewCollector(algorithm, ioLimiter)
	if err != nil {
		return nil, err
	}
	collector.RecordChangeTimes(o.ChangeTimes)

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Hashing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetVisibility(o.Progress && progressVisible()),
		progressbar.OptionFullWidth(),
	)

	entries := make([]snapshot.Entry, len(paths))
	endRegion := tracing.StartRegion(ctx, "collect")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)
	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			entry, err := collector.Collect(gctx, path)
			if err != nil {
				return err
			}
			entries[i] = entry
			tick(o.Counter)
			_ = bar.Add(1)
			return nil
		})
	}
	err = g.Wait()
	endRegion()
	_ = bar.Finish()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot.SortEntries(entries)
	snap := &snapshot.Snapshot{
		Algorithm:   hasher.Normalize(algorithm),
		ChangeTimes: o.ChangeTimes,
		Root:        root,
		Entries:     entries,
	}
	if err := snap.CheckOrder(); err != nil {
		return nil, fmt.Errorf("build %s: %w", root, err)
	}

	result := &Result{Snapshot: snap}
	for i := range entries {
		switch entries[i].Kind {
		case snapshot.KindDirectory:
			result.Directories++
		case snapshot.KindFile:
			result.Files++
			result.Bytes += entries[i].Size
		case snapshot.KindSymlink:
			result.Symlinks++
		case snapshot.KindSpecial:
			result.Special++
		}
	}
	result.Elapsed = time.Since(start)
	logger.WithFields(map[string]interface{}{
		"root":        root,
		"directories": result.Directories,
		"files":       result.Files,
		"symlinks":    result.Symlinks,
		"special":     result.Special,
		"bytes":       result.Bytes,
		"elapsed":     result.Elapsed.String(),
	}).Info("Snapshot built")
	return result, nil
}

func resolveRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%w: empty root", ErrPathNotFound)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPathNotFound, root, err)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrPathNotFound, abs)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnreadableSource, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotADirectory, abs)
	}
	return abs, nil
}

// listPaths walks root and returns every path beneath it that survives the
// exclude patterns. The root itself is not listed.
func listPaths(ctx context.Context, w walker, root string, matcher *utils.PatternMatcher, counter *atomic.Int64) ([]string, error) {
	defer tracing.StartRegion(ctx, "walk")()
	var paths []string
	err := w.Walk(ctx, root, func(path string, _ fs.DirEntry) bool {
		if matcher.Excluded(path) {
			logger.Debugf("Excluded %s", path)
			return false
		}
		paths = append(paths, path)
		tick(counter)
		return true
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func tick(c *atomic.Int64) {
	if c != nil {
		c.Add(1)
	}
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("SIV_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}
