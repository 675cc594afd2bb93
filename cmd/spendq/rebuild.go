package main

import (
	"fmt"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/canopy-network/spendq/app/query"
	"github.com/canopy-network/spendq/pkg/refresh"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [tenant...]",
	Short: "Rebuild aggregate tables, persisting them when refresh.sink is set",
	Long: `Rebuilds every aggregate table for the named tenants, or for every tenant
in the fact store when none are given, and prints one report per tenant.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := query.Build(ctx, cfg, logger, "cli")
		if err != nil {
			return eris.Wrap(err, "rebuild: build engine")
		}
		defer app.Stop()

		var reports []refresh.Report
		var runErr error
		if len(args) == 0 {
			reports, runErr = app.Scheduler.RebuildAll(ctx)
		} else {
			for _, tenant := range args {
				r, err := app.Scheduler.RebuildTenant(ctx, tenant, "cli")
				reports = append(reports, r)
				if err != nil && runErr == nil {
					runErr = err
				}
			}
		}

		out, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return eris.Wrap(err, "rebuild: encode reports")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return runErr
	},
}
