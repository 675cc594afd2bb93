package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopy-network/spendq/app/query"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the refresh and prefetch crons",
	// serve builds its own logger and config through Initialize
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		app := query.Initialize(ctx, configPath)

		if err := query.NewServer(app); err != nil {
			app.Logger.Fatal("Unable to initialize server", zap.Error(err))
		}

		// build the aggregates before accepting traffic
		if _, err := app.Scheduler.RebuildAll(ctx); err != nil {
			app.Logger.Warn("initial rebuild finished with errors", zap.Error(err))
		}

		app.Start(ctx)
		return nil
	},
}
