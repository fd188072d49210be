// Package monitor runs the two SIV modes end to end: initialization builds a
// baseline of a directory, verification rebuilds it and reports what changed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"siv/compare"
	"siv/config"
	"siv/diag"
	"siv/hasher"
	"siv/logger"
	"siv/report"
	"siv/scanner"
	"siv/snapshot"
	"siv/systeminfo"
	"siv/tracing"
	"siv/utils"
)

// ErrPlacement reports a baseline or report path that cannot be used for
// the run, such as one inside the monitored directory.
var ErrPlacement = errors.New("invalid file placement")

// Outcome is the result of one completed run.
type Outcome struct {
	Mode            string
	Directory       string
	BaselineFile    string
	ReportFile      string
	Algorithm       string
	Result          *scanner.Result
	BaselineEntries int
	Changes         []compare.Change
	Summary         compare.Summary
	StartTime       time.Time
	EndTime         time.Time
}

// Elapsed is the wall time of the run.
func (o *Outcome) Elapsed() time.Duration {
	return o.EndTime.Sub(o.StartTime)
}

// Changed reports whether verification found any difference.
func (o *Outcome) Changed() bool {
	return o.Summary.Changed()
}

// Initialize scans cfg.Directory and writes a new baseline and report.
func Initialize(ctx context.Context, cfg *config.Config) (*Outcome, error) {
	ctx, endTask := tracing.StartTask(ctx, "monitor.Initialize")
	defer endTask()

	if !hasher.Supported(cfg.HashAlgorithm) {
		return nil, fmt.Errorf("%w: %s", hasher.ErrUnsupportedAlgorithm, cfg.HashAlgorithm)
	}
	if err := checkPlacement(cfg, false); err != nil {
		return nil, err
	}

	out := newOutcome(cfg, config.ModeInit)
	algorithm := hasher.Normalize(cfg.HashAlgorithm)
	res, err := build(ctx, cfg, algorithm, cfg.ChangeTimes)
	if err != nil {
		return nil, err
	}
	out.Result = res
	out.Algorithm = res.Snapshot.Algorithm

	// The baseline is committed only after the report is written.
	staged, err := snapshot.Stage(cfg.BaselineFile, res.Snapshot)
	if err != nil {
		return nil, err
	}
	out.EndTime = time.Now()
	if err := writeReport(ctx, cfg, out); err != nil {
		staged.Discard()
		return nil, err
	}
	if err := staged.Commit(); err != nil {
		if rmErr := os.Remove(cfg.ReportFile); rmErr != nil {
			logger.Warnf("Failed to remove report %s: %v", cfg.ReportFile, rmErr)
		}
		return nil, err
	}
	logger.Infof("Baseline with %d entries written to %s", res.Snapshot.Len(), cfg.BaselineFile)
	return out, nil
}

// Verify rescans cfg.Directory with the baseline's algorithm and reports every
// difference from the baseline. Detected changes are not an error.
func Verify(ctx context.Context, cfg *config.Config) (*Outcome, error) {
	ctx, endTask := tracing.StartTask(ctx, "monitor.Verify")
	defer endTask()

	if err := checkPlacement(cfg, true); err != nil {
		return nil, err
	}

	out := newOutcome(cfg, config.ModeVerify)
	baseline, err := snapshot.ReadFile(cfg.BaselineFile)
	if err != nil {
		return nil, err
	}
	out.BaselineEntries = baseline.Len()
	out.Algorithm = baseline.Algorithm
	logger.Infof("Loaded baseline %s: %d entries, %s", cfg.BaselineFile, baseline.Len(), baseline.Algorithm)
	if cfg.ChangeTimes && !baseline.ChangeTimes {
		logger.Warnf("Baseline %s has no change times; --ctime is ignored", cfg.BaselineFile)
	}

	res, err := build(ctx, cfg, baseline.Algorithm, baseline.ChangeTimes)
	if err != nil {
		return nil, err
	}
	out.Result = res

	endRegion := tracing.StartRegion(ctx, "compare")
	changes, err := compare.Compare(baseline, res.Snapshot)
	endRegion()
	if err != nil {
		return nil, err
	}
	out.Changes = changes
	out.Summary = compare.Summarize(changes)
	logger.WithFields(map[string]interface{}{
		"added":    out.Summary.Added,
		"removed":  out.Summary.Removed,
		"modified": out.Summary.Modified,
	}).Info("Verification complete")

	out.EndTime = time.Now()
	if err := writeReport(ctx, cfg, out); err != nil {
		return nil, err
	}
	return out, nil
}

func newOutcome(cfg *config.Config, mode string) *Outcome {
	return &Outcome{
		Mode:         mode,
		Directory:    cfg.Directory,
		BaselineFile: cfg.BaselineFile,
		ReportFile:   cfg.ReportFile,
		StartTime:    time.Now(),
	}
}

// build runs the scanner under a stall watchdog when one is configured.
func build(ctx context.Context, cfg *config.Config, algorithm string, changeTimes bool) (*scanner.Result, error) {
	var counter atomic.Int64
	watchdog := diag.New(diag.Options{
		StallThreshold: cfg.DiagStall,
		Dir:            cfg.DiagDir,
		Progress:       counter.Load,
		DumpTrace:      tracing.WriteFlightRecorder,
	})
	watchdog.Start(ctx)
	defer watchdog.Stop()

	return scanner.Build(ctx, cfg.Directory, algorithm,
		scanner.WithExcludes(cfg.ExcludePatterns),
		scanner.WithConcurrency(cfg.ConcurrencyLevel),
		scanner.WithMaxIOPerSecond(cfg.MaxIOPerSecond),
		scanner.WithProgress(cfg.Progress),
		scanner.WithCounter(&counter),
		scanner.WithChangeTimes(changeTimes),
	)
}

// checkPlacement applies the file rules of both modes. The baseline and the
// report live outside the monitored directory, are distinct, and are never
// directories. Initialization refuses to replace an existing baseline and
// verification requires one. An existing report is only replaced with Force.
func checkPlacement(cfg *config.Config, verify bool) error {
	dir, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPlacement, cfg.Directory, err)
	}
	baseline, err := filepath.Abs(cfg.BaselineFile)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPlacement, cfg.BaselineFile, err)
	}
	reportPath, err := filepath.Abs(cfg.ReportFile)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPlacement, cfg.ReportFile, err)
	}

	if baseline == reportPath {
		return fmt.Errorf("%w: baseline and report must be different files", ErrPlacement)
	}
	if utils.IsPathWithin(baseline, []string{dir}) {
		return fmt.Errorf("%w: baseline %s is inside the monitored directory", ErrPlacement, baseline)
	}
	if utils.IsPathWithin(reportPath, []string{dir}) {
		return fmt.Errorf("%w: report %s is inside the monitored directory", ErrPlacement, reportPath)
	}

	exists, err := regularFileExists(baseline, "baseline")
	if err != nil {
		return err
	}
	switch {
	case verify && !exists:
		return fmt.Errorf("%w: baseline %s does not exist", ErrPlacement, baseline)
	case !verify && exists && !cfg.Force:
		return fmt.Errorf("%w: baseline %s already exists (use --force to replace it)", ErrPlacement, baseline)
	}

	exists, err = regularFileExists(reportPath, "report")
	if err != nil {
		return err
	}
	if exists && !cfg.Force {
		return fmt.Errorf("%w: report %s already exists (use --force to replace it)", ErrPlacement, reportPath)
	}
	return nil
}

func regularFileExists(path, what string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %s %s: %v", ErrPlacement, what, path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%w: %s %s is a directory", ErrPlacement, what, path)
	}
	return true, nil
}

func writeReport(ctx context.Context, cfg *config.Config, out *Outcome) error {
	defer tracing.StartRegion(ctx, "report")()

	doc := &report.Document{
		Host:    systeminfo.GetHostInfo(ctx),
		Metrics: metricsFor(out),
		Changes: out.Changes,
	}
	w := report.New(cfg)
	defer w.Close()
	if err := w.Write(cfg.ReportFile, doc); err != nil {
		return err
	}
	logger.Infof("Report written to %s", cfg.ReportFile)
	return nil
}

func metricsFor(out *Outcome) report.Metrics {
	m := report.Metrics{
		Mode:      out.Mode,
		Directory: out.Directory,
		Baseline:  out.BaselineFile,
		Algorithm: out.Algorithm,
		StartTime: out.StartTime.UTC().Format(time.RFC3339),
		EndTime:   out.EndTime.UTC().Format(time.RFC3339),
		Elapsed:   out.Elapsed().Round(time.Millisecond).String(),
	}
	if res := out.Result; res != nil {
		m.Directories = res.Directories
		m.Files = res.Files
		m.Symlinks = res.Symlinks
		m.Special = res.Special
		m.Bytes = res.Bytes
	}
	if out.Mode == config.ModeVerify {
		summary := out.Summary
		m.BaselineEntries = out.BaselineEntries
		m.Summary = &summary
	}
	return m
}
