package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"example.com/progression/internal/outbox"
	"example.com/progression/internal/scheduler"
)

// NewRunCommand creates the long-running scheduler command.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Finalize yesterday for every account on the configured schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd.Context(), opts)
		},
	}
}

func runScheduler(ctx context.Context, opts *RootOptions) error {
	cfg := opts.Config
	engine, closeFn, err := opts.Factory(ctx, cfg, opts.Logger)
	if err != nil {
		return err
	}
	defer closeFn()

	sched := scheduler.New(engine.Location, scheduler.WithLogger(opts.Logger))
	if err := sched.Schedule(cfg.ReconcileSchedule, "nightly-reconcile", scheduler.NightlyReconcile(engine.Reconciler, opts.Logger)); err != nil {
		return err
	}
	if engine.Pool != nil && cfg.DLQPollInterval > 0 {
		manager := outbox.NewDLQManager(engine.Pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)
		spec := fmt.Sprintf("@every %s", cfg.DLQPollInterval)
		err := sched.Schedule(spec, "dlq-replay", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.DLQPollInterval)
			defer cancel()
			processed, err := manager.RunOnce(ctx, defaultDLQBatchSize)
			if processed > 0 {
				opts.Logger.Printf("dlq replay processed %d entries", processed)
			}
			return err
		})
		if err != nil {
			return err
		}
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		opts.Logger.Printf("reconciler metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			opts.Logger.Printf("metrics server error: %v", err)
		}
	}()

	opts.Logger.Printf("reconciler scheduled %q in %s", cfg.ReconcileSchedule, engine.Location)
	sched.Start(ctx)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		opts.Logger.Printf("metrics server shutdown error: %v", err)
	}
	return nil
}
