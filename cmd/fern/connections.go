package main

import (
	"github.com/spf13/cobra"
)

func newConnectionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage the connection table",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Recompute the connection table from the stored interaction log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.connect(ctx, depPostgres, depRedis, depKafka, depGraph); err != nil {
				return err
			}
			p, err := a.pipeline(a.store(), a.locker(), a.publishers()...)
			if err != nil {
				return err
			}

			summary, err := p.RebuildConnections(ctx)
			if summary != nil {
				if perr := printSummary(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
			}
			return err
		},
	})
	return cmd
}
