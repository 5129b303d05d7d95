// Command pulse loads the Pulse statistics tree into SQL and runs the
// dashboard's aggregate queries against the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"pulse/internal/config"
	"pulse/internal/ingest"
	"pulse/internal/runlog"
	"pulse/internal/storage"

	// register all backends with the storage factory.
	_ "pulse/internal/storage/all"
)

// runner is the slice of *ingest.Runner the commands use.
type runner interface {
	Open(ctx context.Context, p config.Pipeline, log ingest.Logger) (storage.Repository, error)
	Load(ctx context.Context, p config.Pipeline, log ingest.Logger) (ingest.Summary, error)
	Reset(ctx context.Context, p config.Pipeline, log ingest.Logger) error
}

// appDeps are the side-effecting seams runMain needs.
type appDeps struct {
	loadConfig  func(path string) (config.Pipeline, error)
	newLogger   func(opts runlog.Options) (*runlog.Logger, error)
	initMetrics func(ctx context.Context, job string, m config.Metrics) (func(), error)
	newRunner   func() runner
	getenv      func(string) string
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newLogger:   runlog.New,
		initMetrics: initMetrics,
		newRunner:   func() runner { return ingest.NewDefaultRunner() },
		getenv:      os.Getenv,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// usageError marks bad invocations; they exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, a ...any) error {
	return usageError{err: fmt.Errorf(format, a...)}
}

// exitError carries a non-zero status for failures already reported on
// stderr.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// runMain executes one CLI invocation and returns the process exit code:
// 0 on success, 2 on usage errors, 1 on everything else.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(ctx, stdout, stderr, deps)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return 0
	}

	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(stderr, "usage: %v\nRun 'pulse --help' for usage.\n", ue.err)
		return 2
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}
