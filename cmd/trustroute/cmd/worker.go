package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/trustroute/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued document jobs from Redis",
	Long: `Start a background worker that consumes document jobs submitted with
POST /v1/jobs while the server runs with server.async enabled.

The worker and the server must share storage and the upload directory.

Examples:
  trustroute worker
  TRUSTROUTE_QUEUE_REDIS_URL=redis://redis:6379/1 trustroute worker --concurrency 8`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		qcfg := cfg.Queue
		if cmd.Flags().Changed("concurrency") {
			qcfg.Concurrency, _ = cmd.Flags().GetInt("concurrency")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		decisions, err := buildDecisionEngine(cfg)
		if err != nil {
			return err
		}
		p, err := buildPipeline(cfg, decisions, s)
		if err != nil {
			return err
		}

		w, err := queue.NewWorker(qcfg, queue.NewHandler(p, nil, slog.Default()), slog.Default())
		if err != nil {
			return fmt.Errorf("failed to create worker: %w", err)
		}
		slog.Info("Starting worker", "queue", qcfg.Name, "concurrency", qcfg.Concurrency, "storage", cfg.Storage.Driver)
		return w.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().Int("concurrency", 0, "number of jobs processed in parallel (default queue.concurrency)")
}
