package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"siv/compare"
	"siv/config"
	"siv/logger"
	"siv/monitor"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	oldFlag := flag.CommandLine
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldFlag
	})
	flag.CommandLine = flag.NewFlagSet("siv", flag.ContinueOnError)
	os.Args = append([]string{"siv"}, args...)
}

func TestHandleSignalEventCancelsContext(t *testing.T) {
	logger.Init("error")

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)

	done := make(chan struct{})
	go func() {
		handleSignalEvent(cancel, &config.Config{}, sigChan)
		close(done)
	}()

	sigChan <- syscall.SIGTERM

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected context to be canceled")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("signal handler did not return")
	}
}

func TestHandleSignalEventClosedChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal)
	close(sigChan)

	handleSignalEvent(cancel, &config.Config{}, sigChan)
	if ctx.Err() != nil {
		t.Fatal("closed channel must not cancel the run")
	}
}

func TestExitCode(t *testing.T) {
	logger.Init("error")
	now := time.Now()
	cases := []struct {
		name    string
		outcome *monitor.Outcome
		want    int
	}{
		{"init", &monitor.Outcome{Mode: config.ModeInit, StartTime: now, EndTime: now}, exitOK},
		{"verify clean", &monitor.Outcome{Mode: config.ModeVerify, StartTime: now, EndTime: now}, exitOK},
		{"verify changed", &monitor.Outcome{Mode: config.ModeVerify, Summary: compare.Summary{Removed: 1, Warnings: 1}}, exitChanged},
	}
	for _, tc := range cases {
		if got := exitCode(tc.outcome); got != tc.want {
			t.Fatalf("%s: expected exit code %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestListHashes(t *testing.T) {
	var buf bytes.Buffer
	listHashes(&buf)
	out := buf.String()
	if !strings.Contains(out, "sha256 (default)\n") {
		t.Fatalf("expected default marker, got:\n%s", out)
	}
	if !strings.Contains(out, "blake3\n") || !strings.Contains(out, "md5\n") {
		t.Fatalf("expected registered algorithms, got:\n%s", out)
	}
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hosts"), []byte("127.0.0.1 localhost\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	baseline := filepath.Join(outside, "base")
	common := []string{"--dir", dir, "--baseline", baseline, "--log-level", "error"}

	withArgs(t, append([]string{"--init", "--report", filepath.Join(outside, "init")}, common...)...)
	if code := run(); code != exitOK {
		t.Fatalf("init: expected exit %d, got %d", exitOK, code)
	}
	if _, err := os.Stat(baseline + ".csv"); err != nil {
		t.Fatalf("expected baseline with .csv extension: %v", err)
	}

	withArgs(t, append([]string{"--verify", "--report", filepath.Join(outside, "clean")}, common...)...)
	if code := run(); code != exitOK {
		t.Fatalf("clean verify: expected exit %d, got %d", exitOK, code)
	}

	if err := os.WriteFile(filepath.Join(dir, "hosts"), []byte("10.0.0.1 evil\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	withArgs(t, append([]string{"--verify", "--report", filepath.Join(outside, "dirty")}, common...)...)
	if code := run(); code != exitChanged {
		t.Fatalf("changed verify: expected exit %d, got %d", exitChanged, code)
	}
	report, err := os.ReadFile(filepath.Join(outside, "dirty.txt"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(report), "Hash changed: "+filepath.Join(dir, "hosts")) {
		t.Fatalf("expected hash change in report:\n%s", report)
	}

	withArgs(t, append([]string{"--verify", "--report", filepath.Join(outside, "dirty")}, common...)...)
	if code := run(); code != exitError {
		t.Fatalf("existing report: expected exit %d, got %d", exitError, code)
	}
}

func TestRunConfigError(t *testing.T) {
	withArgs(t, "--init")
	if code := run(); code != exitError {
		t.Fatalf("expected exit %d for missing arguments, got %d", exitError, code)
	}
}
