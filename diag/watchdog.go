// Package diag watches a running scan and captures diagnostics when it stops
// making progress, typically because a read is blocked on a hung mount.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"siv/logger"
)

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	// StallThreshold is how long progress may stand still before artifacts are
	// written. Zero disables the watchdog.
	StallThreshold time.Duration
	Dir            string
	Progress       func() int64
	// DumpTrace writes the flight recorder window to a path. Optional.
	DumpTrace func(path string) error

	now           func() time.Time
	lookupProfile func(name string) profileWriter
}

// Watchdog samples a progress counter and, after StallThreshold without
// change, writes a stall event, a goroutine profile and a flight recorder
// dump into Dir. Artifacts are written at most once per threshold.
type Watchdog struct {
	threshold     time.Duration
	dir           string
	progress      func() int64
	dumpTrace     func(path string) error
	now           func() time.Time
	lookupProfile func(name string) profileWriter

	mu             sync.Mutex
	lastProgress   int64
	lastProgressAt time.Time
	lastDumpAt     time.Time
	dumps          int

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(opts Options) *Watchdog {
	now := opts.now
	if now == nil {
		now = time.Now
	}
	lookup := opts.lookupProfile
	if lookup == nil {
		lookup = func(name string) profileWriter {
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	return &Watchdog{
		threshold:     opts.StallThreshold,
		dir:           dir,
		progress:      opts.Progress,
		dumpTrace:     opts.DumpTrace,
		now:           now,
		lookupProfile: lookup,
	}
}

// Start begins sampling until ctx ends or Stop is called. It does nothing
// when the watchdog is disabled or already running.
func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.threshold <= 0 || w.progress == nil || w.stopCh != nil {
		return
	}

	w.mu.Lock()
	w.lastProgress = w.progress()
	w.lastProgressAt = w.now()
	w.lastDumpAt = time.Time{}
	w.mu.Unlock()

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := w.threshold / 2
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if interval > 2*time.Second {
		interval = 2 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(w.doneCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.check(w.now())
			}
		}
	}()
}

// Stop ends sampling and waits for the sampler to exit.
func (w *Watchdog) Stop() {
	if w == nil || w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.stopCh = nil
	w.doneCh = nil
}

// Dumps returns how many times stall artifacts were written.
func (w *Watchdog) Dumps() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dumps
}

func (w *Watchdog) check(now time.Time) {
	progress := w.progress()

	w.mu.Lock()
	if progress != w.lastProgress || w.lastProgressAt.IsZero() {
		w.lastProgress = progress
		w.lastProgressAt = now
		w.mu.Unlock()
		return
	}
	stalledFor := now.Sub(w.lastProgressAt)
	dump := stalledFor >= w.threshold &&
		(w.lastDumpAt.IsZero() || now.Sub(w.lastDumpAt) >= w.threshold)
	if dump {
		w.lastDumpAt = now
		w.dumps++
	}
	w.mu.Unlock()

	if !dump {
		return
	}
	logger.Warnf("Scan made no progress for %s after %d entries; writing diagnostics to %s", stalledFor.Round(time.Millisecond), progress, w.dir)
	if err := w.writeArtifacts(now, progress, stalledFor); err != nil {
		logger.Warnf("Stall diagnostics failed: %v", err)
	}
}

func (w *Watchdog) writeArtifacts(now time.Time, progress int64, stalledFor time.Duration) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	ts := now.UTC().Format("20060102-150405.000")
	event := map[string]interface{}{
		"event":        "scan_stalled",
		"timestamp":    now.UTC().Format(time.RFC3339Nano),
		"entries_done": progress,
		"threshold_ms": w.threshold.Milliseconds(),
		"stalled_ms":   stalledFor.Milliseconds(),
	}
	b, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(w.dir, fmt.Sprintf("siv-stall-%s.json", ts)), b, 0o600); err != nil {
		return err
	}

	if err := w.writeProfile("goroutine", ts); err != nil {
		logger.Warnf("Goroutine profile dump failed: %v", err)
	}
	if w.dumpTrace != nil {
		if err := w.dumpTrace(filepath.Join(w.dir, fmt.Sprintf("siv-flight-%s.trace", ts))); err != nil {
			logger.Warnf("Flight recorder dump failed: %v", err)
		}
	}
	return nil
}

func (w *Watchdog) writeProfile(name, ts string) error {
	profile := w.lookupProfile(name)
	if profile == nil {
		return fmt.Errorf("pprof profile %q unavailable", name)
	}
	f, err := os.OpenFile(filepath.Join(w.dir, fmt.Sprintf("siv-%s-%s.pprof", name, ts)), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return profile.WriteTo(f, 2)
}
