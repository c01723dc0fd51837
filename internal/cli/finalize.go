package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
)

// FinalizeOptions holds flags for the finalize command.
type FinalizeOptions struct {
	*RootOptions
	Date    string
	Account string
	Force   bool
}

// NewFinalizeCommand creates the one-off finalize command.
func NewFinalizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FinalizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Finalize daily summaries for one day",
		Long: `Finalize the daily summary of one account, or of every account when
--account is omitted. The day defaults to yesterday in the reference timezone.
--force recomputes a summary that was already finalized.

Examples:
  reconciler finalize
  reconciler finalize --date 2025-03-11 --account acc-1
  reconciler finalize --date 2025-03-11 --account acc-1 --force --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFinalize(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "calendar day YYYY-MM-DD (default yesterday)")
	cmd.Flags().StringVar(&opts.Account, "account", "", "single account id (default all accounts)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "recompute an already finalized summary (requires --account)")

	return cmd
}

func runFinalize(cmd *cobra.Command, opts *FinalizeOptions) error {
	if opts.Force && opts.Account == "" {
		return errors.New("--force requires --account")
	}
	ctx := cmd.Context()
	engine, closeFn, err := opts.Factory(ctx, opts.Config, opts.Logger)
	if err != nil {
		return err
	}
	defer closeFn()
	job := engine.Reconciler

	date := job.Yesterday()
	if opts.Date != "" {
		if date, err = calendar.Parse(opts.Date); err != nil {
			return fmt.Errorf("--date: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if opts.Account == "" {
		report, err := job.FinalizeAll(ctx, date)
		if err != nil {
			return err
		}
		if opts.Format == "json" {
			return writeJSON(out, report)
		}
		fmt.Fprintf(out, "%s: finalized=%d already=%d skipped=%d failed=%d not_started=%d (%s)\n",
			date, len(report.Finalized), len(report.AlreadyFinalized), len(report.Skipped), len(report.Failed), len(report.NotStarted), report.Elapsed)
		for _, f := range report.Failed {
			fmt.Fprintf(out, "  failed %s: %s\n", f.AccountID, f.Reason)
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d accounts failed", len(report.Failed))
		}
		return nil
	}

	var summary domain.DailySummary
	if opts.Force {
		summary, err = job.Reprocess(ctx, opts.Account, date)
	} else {
		summary, err = job.Finalize(ctx, opts.Account, date)
	}
	already := errors.Is(err, domain.ErrAlreadyFinalized)
	if err != nil && !already {
		return err
	}
	if opts.Format == "json" {
		return writeJSON(out, map[string]interface{}{
			"account_id":        summary.AccountID,
			"date":              summary.Date,
			"calories_in":       summary.CaloriesIn,
			"calories_out":      summary.CaloriesOut,
			"final_balance":     summary.FinalBalance,
			"already_finalized": already,
		})
	}
	status := "finalized"
	if already {
		status = "already finalized"
	}
	fmt.Fprintf(out, "%s %s %s: in=%.2f out=%.2f balance=%.2f\n",
		summary.AccountID, summary.Date, status, summary.CaloriesIn, summary.CaloriesOut, summary.FinalBalance)
	return nil
}
