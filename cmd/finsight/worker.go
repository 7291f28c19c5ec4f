package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nidhogg/finsight/internal/orchestrator"
	"github.com/nidhogg/finsight/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerSize int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume async jobs from Redis",
	Long: `Run a standalone worker pool against the Redis job stream. Requires
dispatch.backend "redis"; with the memory backend jobs only live inside
"finsight serve".`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVarP(&workerSize, "concurrency", "n", 0, "Concurrent jobs (default dispatch.workers)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	if cfg.Dispatch.Backend != "redis" {
		return fmt.Errorf("worker needs dispatch.backend redis, got %q", cfg.Dispatch.Backend)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, "finsight-worker", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdown(context.Background())

	a, err := newApp(ctx, cfg, logger, appOptions{record: true, index: true})
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := a.openQueue()
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	size := workerSize
	if size <= 0 {
		size = cfg.Dispatch.Workers
	}
	pool := orchestrator.NewWorkerPool(a.service, queue, size, logger)
	pool.OnComplete(func(_ context.Context, job *orchestrator.Job) {
		logger.Info("job finished",
			zap.String("job", job.ID),
			zap.String("status", string(job.Status)),
			zap.Int64("analysis", job.AnalysisID))
	})
	return pool.Run(ctx)
}
