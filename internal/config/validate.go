package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/xo/dburl"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding from ValidatePipeline.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline checks p as it would be used after ApplyDefaults.
// p itself is not modified.
func ValidatePipeline(p Pipeline) []Issue {
	p.ApplyDefaults()

	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if p.Source.Root == "" {
		add(SeverityError, "source.root", "is required")
	}
	if q := p.Source.DefaultQuarter; q < 0 || q > 4 {
		add(SeverityError, "source.default_quarter", "must be between 0 and 4, got %d", q)
	}

	switch p.Storage.Kind {
	case "", "postgres", "sqlite", "mssql":
	default:
		add(SeverityError, "storage.kind", "unsupported kind %q (want postgres|sqlite|mssql)", p.Storage.Kind)
	}
	if p.Storage.DSN != "" && p.Storage.Kind != "sqlite" {
		if _, err := dburl.Parse(p.Storage.DSN); err != nil {
			add(SeverityError, "storage.dsn", "cannot parse: %v", err)
		}
	}
	if p.Storage.DSN != "" && !p.Storage.DB.empty() {
		add(SeverityWarning, "storage.db", "ignored because storage.dsn is set")
	}
	if p.Storage.DSN == "" && p.Storage.DB.empty() {
		add(SeverityWarning, "storage", "no dsn or db section; using local default database")
	}
	if port := p.Storage.DB.Port; port < 0 || port > 65535 {
		add(SeverityError, "storage.db.port", "out of range: %d", port)
	}

	if p.Runtime.BatchSize < 0 {
		add(SeverityError, "runtime.batch_size", "must be positive, got %d", p.Runtime.BatchSize)
	}
	if p.Runtime.RetryInitialMS < 0 {
		add(SeverityError, "runtime.retry_initial_ms", "must be positive, got %d", p.Runtime.RetryInitialMS)
	}

	if _, err := logrus.ParseLevel(p.Logging.Level); err != nil {
		add(SeverityError, "logging.level", "%v", err)
	}

	switch p.Metrics.Backend {
	case "none", "datadog", "pushgateway":
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q (want none|datadog|pushgateway)", p.Metrics.Backend)
	}

	return out
}
