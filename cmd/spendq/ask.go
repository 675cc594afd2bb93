package main

import (
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/canopy-network/spendq/app/query"
)

var askTenant string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Rebuild one tenant's aggregates and answer a question",
	Example: `  spendq ask --tenant t1 "how much have we spent on Ava Smith this year"
  spendq --config spendq.yaml ask --tenant t1 "top vendors by hours"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if askTenant == "" {
			return eris.New("ask: --tenant is required")
		}

		app, err := query.Build(ctx, cfg, logger, "cli")
		if err != nil {
			return eris.Wrap(err, "ask: build engine")
		}
		defer app.Stop()

		if _, err := app.Scheduler.RebuildTenant(ctx, askTenant, "cli"); err != nil {
			return eris.Wrap(err, "ask: rebuild")
		}

		answer, err := app.Engine.Ask(ctx, askTenant, strings.Join(args, " "))
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return eris.Wrap(err, "ask: encode answer")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askTenant, "tenant", "", "tenant id")
}
