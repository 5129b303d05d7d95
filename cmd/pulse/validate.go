package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulse/internal/config"
)

func (a *app) newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline config and exit",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline(true)
			if err != nil {
				return err
			}
			res, err := config.ResolveStorage(p.Storage, a.getenv)
			if err != nil {
				fmt.Fprintf(a.stderr, "error: storage: %v\n", err)
				return exitError{code: 1}
			}
			fmt.Fprintf(a.stdout, "Configuration is valid: %s (storage=%s dsn=%s metrics=%s)\n",
				displayPath(a.flags.config), res.Kind, res.Redacted, p.Metrics.Backend)
			return nil
		},
	}
	a.addMetricsFlags(cmd)
	return cmd
}
