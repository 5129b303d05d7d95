package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the seven tables without loading",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline(false)
			if err != nil {
				return err
			}
			log, err := a.logger(p, a.stdout, false)
			if err != nil {
				return err
			}
			defer log.Close()

			if err := a.deps.newRunner().Reset(a.ctx, p, log); err != nil {
				log.Errorf("stage=schema_reset err=%v", err)
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Fprintln(a.stdout, "ok")
			return nil
		},
	}
}
