package cmd

import (
	"context"
	"errors"

	"github.com/creativeprojects/mailstore/term"
	"github.com/spf13/cobra"
)

// runOnAccount opens the store of the account named by the first argument,
// and gives the remaining arguments to fn.
func runOnAccount(fn func(ctx context.Context, store *accountStore, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 {
			return errors.New("missing account name")
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		var metrics *metricsReader
		if config.Metrics.Enabled {
			metrics = newMetricsReader()
		}
		store, err := openStore(ctx, config, args[0], logger, metrics.meterProvider())
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				term.Warnf("cannot close store: %s", err)
			}
		}()

		err = fn(ctx, store, args[1:])
		if renderErr := metrics.render(ctx); renderErr != nil {
			term.Warnf("cannot collect metrics: %s", renderErr)
		}
		return err
	}
}
