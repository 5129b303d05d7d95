package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pulse/internal/config"
	"pulse/internal/runlog"
)

func init() {
	cobra.EnableCommandSorting = false
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	config         string
	root           string
	dsn            string
	verbose        bool
	metricsBackend string
	pushgatewayURL string
}

// app is the state of one invocation.
type app struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
	deps   appDeps
	flags  globalFlags
}

func newRootCmd(ctx context.Context, stdout, stderr io.Writer, deps appDeps) *cobra.Command {
	a := &app{ctx: ctx, stdout: stdout, stderr: stderr, deps: deps}

	root := &cobra.Command{
		Use:   "pulse",
		Short: "Load Pulse statistics into SQL and query them",
		Long: `pulse walks a Pulse data tree (data/{aggregated,map,top}/...), flattens
every <year>/<quarter>.json into one of seven statistics tables and answers
the dashboard's aggregate queries against the loaded database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return usagef("a command is required (load, reset, query, validate, probe)")
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})
	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.config, "config", "", "pipeline config file (.json, .yaml)")
	pf.StringVar(&a.flags.root, "root", "", "data tree root (overrides source.root)")
	pf.StringVar(&a.flags.dsn, "dsn", "", "database URL (overrides storage.dsn)")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable debug logs")

	root.AddCommand(
		a.newLoadCmd(),
		a.newResetCmd(),
		a.newQueryCmd(),
		a.newValidateCmd(),
		a.newProbeCmd(),
	)
	return root
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usagef("unknown command %q for %q", args[0], cmd.CommandPath())
	}
	return nil
}

// addMetricsFlags registers the metrics switches on commands that touch the
// database.
func (a *app) addMetricsFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.flags.metricsBackend, "metrics-backend", "", "metrics backend: none|datadog|pushgateway (overrides env METRICS_BACKEND and config)")
	cmd.Flags().StringVar(&a.flags.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL and config)")
}

// pipeline loads the config file (if any), applies command-line and
// environment overrides, then defaults, and prints validation issues to
// stderr. An invalid config is reported and turned into exit status 1.
// Commands that never read the data tree pass needSource=false and skip the
// source.* checks.
func (a *app) pipeline(needSource bool) (config.Pipeline, error) {
	path := strings.TrimSpace(a.flags.config)
	switch {
	case needSource && path == "" && strings.TrimSpace(a.flags.root) == "":
		return config.Pipeline{}, usagef("one of --config or --root is required")
	case !needSource && path == "" && strings.TrimSpace(a.flags.dsn) == "":
		return config.Pipeline{}, usagef("one of --config or --dsn is required")
	}

	var p config.Pipeline
	if path != "" {
		var err error
		if p, err = a.deps.loadConfig(path); err != nil {
			return config.Pipeline{}, fmt.Errorf("load config: %w", err)
		}
	}

	if a.flags.root != "" {
		p.Source.Root = a.flags.root
	}
	if a.flags.dsn != "" {
		p.Storage.DSN = a.flags.dsn
	}
	if v := firstNonEmpty(a.flags.metricsBackend, a.getenv("METRICS_BACKEND")); v != "" {
		p.Metrics.Backend = v
	}
	if v := firstNonEmpty(a.flags.pushgatewayURL, a.getenv("PUSHGATEWAY_URL")); v != "" {
		p.Metrics.PushgatewayURL = v
	}
	if a.flags.verbose {
		p.Logging.Level = "debug"
	}
	p.ApplyDefaults()

	issues := config.ValidatePipeline(p)
	if !needSource {
		issues = withoutPrefix(issues, "source.")
	}
	for _, iss := range issues {
		fmt.Fprintln(a.stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(a.stderr, "Configuration is invalid: %s\n", displayPath(path))
		return config.Pipeline{}, exitError{code: 1}
	}
	return p, nil
}

// logger opens the run logger. Console output goes to stderr for commands
// whose stdout is data.
func (a *app) logger(p config.Pipeline, console io.Writer, noFile bool) (*runlog.Logger, error) {
	l, err := a.deps.newLogger(runlog.Options{
		Dir:     p.Logging.Dir,
		Prefix:  p.Logging.Prefix,
		Level:   p.Logging.Level,
		Console: console,
		NoFile:  noFile,
	})
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return l, nil
}

func (a *app) getenv(key string) string {
	if a.deps.getenv == nil {
		return ""
	}
	return a.deps.getenv(key)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func displayPath(path string) string {
	if path == "" {
		return "(flags only)"
	}
	return path
}

func withoutPrefix(issues []config.Issue, prefix string) []config.Issue {
	out := issues[:0:0]
	for _, iss := range issues {
		if !strings.HasPrefix(iss.Path, prefix) {
			out = append(out, iss)
		}
	}
	return out
}
