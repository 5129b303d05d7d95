package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pulse/internal/ingest"
)

func (a *app) newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Recreate the seven tables and load the data tree",
		Long: `load drops and recreates every statistics table, then walks the national
and per-state folders of each dataset and inserts one transaction per file.
Bad files are logged and skipped; a lost database connection aborts the run.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLoad()
		},
	}
	a.addMetricsFlags(cmd)
	return cmd
}

func (a *app) runLoad() error {
	p, err := a.pipeline(true)
	if err != nil {
		return err
	}

	log, err := a.logger(p, a.stdout, false)
	if err != nil {
		return err
	}
	defer log.Close()
	if path := log.Path(); path != "" {
		log.Printf("stage=start job=%s root=%s log=%s", p.Job, p.Source.Root, path)
	}

	cleanup, err := a.deps.initMetrics(a.ctx, p.Job, p.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer cleanup()

	sum, err := a.deps.newRunner().Load(a.ctx, p, log)
	if len(sum.Tables) > 0 {
		printSummary(a.stdout, sum)
	}
	if err != nil {
		log.Errorf("stage=run err=%v", err)
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// printSummary writes the per-table counts of a load.
func printSummary(w io.Writer, s ingest.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TABLE\tROWS\tLOADED\tSKIPPED\tFAILED\tPARSE_ERRORS\t")
	for _, t := range s.Tables {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t\n", t.Table, t.Rows, t.Loaded, t.Skipped, t.Failed, t.ParseErrors)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "total_rows=%d failed_files=%d duration=%s\n", s.TotalRows(), s.FailedFiles(), s.Duration)
}
