//go:build trace

package tracing

import (
	"context"
	"os"
	"runtime/trace"
)

// DefaultFile receives the execution trace when SIV_TRACE_FILE is unset.
const DefaultFile = "siv.trace"

var traceFile *os.File

// Start enables runtime tracing for the whole run.
func Start() error {
	path := os.Getenv("SIV_TRACE_FILE")
	if path == "" {
		path = DefaultFile
	}
	var err error
	traceFile, err = os.Create(path)
	if err != nil {
		return err
	}
	return trace.Start(traceFile)
}

// Stop stops runtime tracing and closes the trace file.
func Stop() {
	trace.Stop()
	if traceFile != nil {
		traceFile.Close()
		traceFile = nil
	}
}

// StartTask begins a trace task and returns the derived context and a function
// to end the task.
func StartTask(ctx context.Context, name string) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, name)
	return ctx, task.End
}

// StartRegion marks the beginning of a region in the trace and returns a
// function that ends the region when invoked.
func StartRegion(ctx context.Context, name string) func() {
	return trace.StartRegion(ctx, name).End
}

// Log adds a trace event with the provided category and message.
func Log(ctx context.Context, category, message string) {
	trace.Log(ctx, category, message)
}
