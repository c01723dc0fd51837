package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"example.com/progression/internal/outbox"
)

const defaultDLQBatchSize = 50

// NewDLQCommand groups dead-letter maintenance commands.
func NewDLQCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay outbox dead letters",
	}
	cmd.AddCommand(newDLQReplayCommand(rootOpts))
	return cmd
}

func newDLQReplayCommand(opts *RootOptions) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Requeue due dead letters onto the outbox once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, closeFn, err := opts.Factory(ctx, opts.Config, opts.Logger)
			if err != nil {
				return err
			}
			defer closeFn()
			if engine.Pool == nil {
				return errors.New("dlq replay needs the postgres store")
			}
			manager := outbox.NewDLQManager(engine.Pool, opts.Config.DLQMaxRetries, opts.Config.DLQBaseDelay)
			processed, err := manager.RunOnce(ctx, batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d dead letters\n", processed)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", defaultDLQBatchSize, "maximum entries to process")
	return cmd
}
