package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"siv/config"
	"siv/hasher"
	"siv/logger"
	"siv/monitor"
	"siv/tracing"
)

const (
	exitOK      = 0
	exitError   = 1
	exitChanged = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := tracing.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start trace: %v\n", err)
	} else {
		defer tracing.Stop()
	}

	// Initialize configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return exitError
	}

	if cfg.ListHashes {
		listHashes(os.Stdout)
		return exitOK
	}

	// Initialize logger
	logger.Init(cfg.LogLevel)

	if cfg.TraceFlight {
		if err := tracing.StartFlightRecorder(cfg.TraceFlightMax, cfg.TraceFlightAge); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer tracing.StopFlightRecorder()
		}
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigChan)
		close(sigChan)
	}()
	go handleSignalEvent(cancel, cfg, sigChan)

	outcome, err := execute(ctx, cfg)
	if err != nil {
		if isInterrupted(err) {
			logger.Errorf("%s interrupted: %v", modeName(cfg.Mode), err)
		} else {
			logger.Errorf("%s failed: %v", modeName(cfg.Mode), err)
			dumpFlightRecorder(cfg)
		}
		return exitError
	}
	return exitCode(outcome)
}

func execute(ctx context.Context, cfg *config.Config) (*monitor.Outcome, error) {
	switch cfg.Mode {
	case config.ModeInit:
		return monitor.Initialize(ctx, cfg)
	case config.ModeVerify:
		return monitor.Verify(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func exitCode(outcome *monitor.Outcome) int {
	if outcome.Mode == config.ModeVerify && outcome.Changed() {
		s := outcome.Summary
		logger.Warnf("Changes detected: %d created, %d deleted, %d modified", s.Added, s.Removed, s.Modified)
		return exitChanged
	}
	logger.Infof("%s completed in %s", modeName(outcome.Mode), outcome.Elapsed().Round(time.Millisecond))
	return exitOK
}

func modeName(mode string) string {
	if mode == config.ModeInit {
		return "Initialization"
	}
	return "Verification"
}

func listHashes(w io.Writer) {
	for _, name := range hasher.Available() {
		if name == hasher.DefaultAlgorithm {
			fmt.Fprintf(w, "%s (default)\n", name)
			continue
		}
		fmt.Fprintln(w, name)
	}
}

func handleSignalEvent(cancelFunc context.CancelFunc, cfg *config.Config, sigChan <-chan os.Signal) {
	if _, ok := <-sigChan; !ok {
		return
	}
	logger.Info("Interrupt signal received. Shutting down...")
	dumpFlightRecorder(cfg)
	cancelFunc()
}

func dumpFlightRecorder(cfg *config.Config) {
	if !cfg.TraceFlight {
		return
	}
	if err := tracing.WriteFlightRecorder(cfg.TraceFlightFile); err != nil {
		logger.Warnf("Failed to write flight recorder: %v", err)
		return
	}
	logger.Infof("Flight recorder written to %s", cfg.TraceFlightFile)
}

// isInterrupted reports whether err stems from a cancelled run.
func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
