package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"pulse/internal/config"
	"pulse/internal/metrics"
	"pulse/internal/metrics/datadog"
	"pulse/internal/metrics/prompush"
)

// metricsBackend is a metrics.Backend that owns background work and must be
// closed.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
	getenv            = os.Getenv
)

// initMetrics installs the configured backend and returns its cleanup. The
// cleanup is never nil and flushes whatever was recorded; errors there are
// logged, not returned.
func initMetrics(ctx context.Context, job string, m config.Metrics) (func(), error) {
	noop := func() {}

	switch m.Backend {
	case "", "none":
		return noop, nil

	case "datadog":
		tags := append(append([]string(nil), m.Tags...), datadog.ParseTagsCSV(getenv("METRICS_TAGS"))...)
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway":
		b, err := newPushBackend(job, m.PushgatewayURL)
		if err != nil {
			return noop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", m.Backend)
	}
}
