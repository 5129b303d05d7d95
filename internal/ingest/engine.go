// Package ingest runs a full load: reset the schema, then walk every record
// kind's national and state trees and load each file's rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"pulse/internal/dataset"
	"pulse/internal/loader"
	"pulse/internal/metrics"
	"pulse/internal/schema"
	"pulse/internal/storage"
	"pulse/internal/walker"
)

// Logger is the leveled logging surface used by the engine. *runlog.Logger
// satisfies it.
type Logger interface {
	Printf(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

// stateDir is the directory under each national root holding per-state trees.
const stateDir = "state"

// Options selects what a run loads.
type Options struct {
	Root           string // corpus root containing data/
	Country        string
	NationalState  string // state value for national rows
	DefaultQuarter int

	// Kinds restricts the run. Empty means every kind.
	Kinds []dataset.Kind
}

// TableStats counts one table's outcome.
type TableStats struct {
	Table       string
	Rows        int64
	Loaded      int // files whose rows were committed (including zero-row files)
	Skipped     int // files missing their expected top-level key
	Failed      int // files rolled back or rejected by the normalizer
	ParseErrors int // files that could not be read or decoded
}

type Summary struct {
	Tables   []TableStats
	Duration time.Duration
}

func (s Summary) TotalRows() int64 {
	var n int64
	for _, t := range s.Tables {
		n += t.Rows
	}
	return n
}

func (s Summary) FailedFiles() int {
	n := 0
	for _, t := range s.Tables {
		n += t.Failed + t.ParseErrors
	}
	return n
}

type Engine struct {
	Repo   storage.Repository
	Logger Logger

	// Loader writes rows. Nil means a Loader over Repo with default settings.
	Loader *loader.Loader
}

func (e *Engine) loader() *loader.Loader {
	if e.Loader != nil {
		return e.Loader
	}
	return &loader.Loader{Repo: e.Repo, Logger: e.Logger}
}

// Run resets all tables and loads the corpus under opts.Root.
//
// Parse, skip and per-file insert failures are logged and counted. Run
// returns an error only for schema reset failures, loader.ErrFatal and
// context cancellation; the summary collected so far is returned with it.
func (e *Engine) Run(ctx context.Context, opts Options) (Summary, error) {
	var sum Summary
	if e.Repo == nil {
		return sum, fmt.Errorf("ingest: Repo is required")
	}
	if e.Logger == nil {
		return sum, fmt.Errorf("ingest: Logger is required")
	}
	start := time.Now()

	resetStart := time.Now()
	mgr := &schema.Manager{Repo: e.Repo, Logger: e.Logger}
	if err := mgr.Reset(ctx); err != nil {
		metrics.RecordStep("schema_reset", "error", time.Since(resetStart))
		return sum, err
	}
	metrics.RecordStep("schema_reset", "ok", time.Since(resetStart))

	descs, err := selectKinds(opts.Kinds)
	if err != nil {
		return sum, err
	}

	for _, d := range descs {
		kindStart := time.Now()
		st, err := e.loadKind(ctx, d, opts)
		sum.Tables = append(sum.Tables, st)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordStep(d.Table, status, time.Since(kindStart))
		if err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		e.Logger.Printf("stage=load table=%s rows=%d loaded=%d skipped=%d failed=%d parse_errors=%d duration=%s",
			st.Table, st.Rows, st.Loaded, st.Skipped, st.Failed, st.ParseErrors, durMS(kindStart))
	}

	sum.Duration = time.Since(start)
	e.Logger.Printf("stage=summary tables=%d rows=%d failed_files=%d duration=%s",
		len(sum.Tables), sum.TotalRows(), sum.FailedFiles(), sum.Duration.Truncate(time.Millisecond))
	return sum, nil
}

func selectKinds(kinds []dataset.Kind) ([]dataset.Descriptor, error) {
	if len(kinds) == 0 {
		return dataset.All(), nil
	}
	out := make([]dataset.Descriptor, 0, len(kinds))
	for _, k := range kinds {
		d, ok := dataset.Lookup(k)
		if !ok {
			return nil, fmt.Errorf("ingest: unknown record kind %d", int(k))
		}
		out = append(out, d)
	}
	return out, nil
}

// loadKind walks the national tree (skipping its state/ directory) and then
// every state tree for one descriptor.
func (e *Engine) loadKind(ctx context.Context, d dataset.Descriptor, opts Options) (TableStats, error) {
	st := TableStats{Table: d.Table}
	base := filepath.Join(opts.Root, filepath.FromSlash(d.Path))
	ld := e.loader()

	national := &walker.Walker{Logger: e.Logger, SkipDirs: []string{stateDir}}
	if err := e.walkTree(ctx, national, d, ld, base, opts, opts.NationalState, &st); err != nil {
		return st, err
	}

	statesRoot := filepath.Join(base, stateDir)
	perState := &walker.Walker{Logger: e.Logger}
	states, err := perState.States(statesRoot)
	if err != nil {
		return st, err
	}
	for _, s := range states {
		if err := e.walkTree(ctx, perState, d, ld, filepath.Join(statesRoot, s), opts, s, &st); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (e *Engine) walkTree(
	ctx context.Context,
	w *walker.Walker,
	d dataset.Descriptor,
	ld *loader.Loader,
	base string,
	opts Options,
	state string,
	st *TableStats,
) error {
	ws, err := w.Walk(ctx, base, opts.DefaultQuarter, func(f walker.File) error {
		key := dataset.Key{Country: opts.Country, State: state, Year: f.Year, Quarter: f.Quarter}
		return e.loadFile(ctx, d, ld, key, f, st)
	})
	st.ParseErrors += ws.ParseErrors
	if ws.ParseErrors > 0 {
		metrics.IncCounter(metrics.FilesTotal, float64(ws.ParseErrors), metrics.Labels{"kind": d.Table, "status": metrics.StatusFailed})
	}
	return err
}

func (e *Engine) loadFile(ctx context.Context, d dataset.Descriptor, ld *loader.Loader, key dataset.Key, f walker.File, st *TableStats) error {
	res, err := d.Normalize(key, f.Payload)
	if err != nil {
		st.Failed++
		metrics.RecordFile(d.Table, metrics.StatusFailed)
		e.Logger.Errorf("Failed to normalize %s: %v", f.Path, err)
		return nil
	}
	if res.Skipped {
		st.Skipped++
		metrics.RecordFile(d.Table, metrics.StatusSkipped)
		e.Logger.Warnf("Skipped %s: %s -> %s", d.Table, f.Path, res.Reason)
		return nil
	}

	n, err := ld.Load(ctx, d.Table, d.Columns, res.Rows)
	if err != nil {
		if errors.Is(err, loader.ErrFatal) {
			metrics.RecordFile(d.Table, metrics.StatusFailed)
			e.Logger.Errorf("Aborting load at %s: %v", f.Path, err)
			return err
		}
		st.Failed++
		metrics.RecordFile(d.Table, metrics.StatusFailed)
		e.Logger.Errorf("Failed to insert %s: %s: %v", d.Table, f.Path, err)
		return nil
	}

	st.Loaded++
	st.Rows += n
	metrics.RecordFile(d.Table, metrics.StatusLoaded)
	metrics.RecordRows(d.Table, n)
	e.Logger.Printf("Inserted %d rows for %s: %s", n, d.Table, f.Path)
	return nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
