package main

import (
	"fmt"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopy-network/spendq/pkg/redis"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <tenant>",
	Short: "Publish a facts-committed notification to the Redis stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := redis.NewClient(ctx, logger)
		if err != nil {
			return eris.Wrap(err, "notify: connect redis")
		}
		defer func() { _ = client.Close() }()

		id, err := client.PublishFactsCommitted(ctx, cfg.Stream.Name, args[0])
		if err != nil {
			return err
		}
		logger.Info("facts committed published", zap.String("stream", cfg.Stream.Name), zap.String("tenant_id", args[0]), zap.String("id", id))
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}
