package main

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"pulse/internal/probe"
)

func (a *app) newProbeCmd() *cobra.Command {
	var (
		format         string
		defaultQuarter int
	)
	cmd := &cobra.Command{
		Use:   "probe <file.json>",
		Short: "Show the table, key and rows one data file would load",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("probe takes exactly one file, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" {
				return usagef("unknown --format %q (want table|json)", format)
			}
			r, err := probe.File(args[0], probe.Options{DefaultQuarter: defaultQuarter})
			if err != nil {
				return err
			}
			if format == "json" {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}

			fmt.Fprintf(a.stdout, "table=%s country=%s state=%s year=%d quarter=%d\n", r.Table, r.Country, r.State, r.Year, r.Quarter)
			for _, n := range r.Notes {
				fmt.Fprintf(a.stdout, "note: %s\n", n)
			}
			if r.Skipped {
				fmt.Fprintf(a.stdout, "skipped: %s\n", r.Reason)
				return nil
			}
			rows := make([][]string, len(r.Rows))
			for i, row := range r.Rows {
				cells := make([]string, len(row))
				for j, v := range row {
					cells[j] = fmt.Sprint(v)
				}
				rows[i] = cells
			}
			header := make([]string, len(r.Columns))
			for i, c := range r.Columns {
				header[i] = strings.ToUpper(c)
			}
			return writeTable(a.stdout, header, rows)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table|json")
	cmd.Flags().IntVar(&defaultQuarter, "default-quarter", 0, "quarter used when the file name is not numeric")
	return cmd
}
