package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/trustroute/internal/queue"
	"github.com/MeKo-Tech/trustroute/internal/review"
	"github.com/MeKo-Tech/trustroute/internal/server"
	"github.com/MeKo-Tech/trustroute/internal/version"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for scoring and review",
	Long: `Start an HTTP server that provides REST API endpoints for trust scoring,
calibration, region processing and the review queue.

The server provides the following endpoints:
  GET  /health                    - Health check endpoint
  GET  /metrics                   - Prometheus metrics
  POST /v1/score                  - Route a document from its confidences
  POST /v1/calibrate              - Fit (and optionally apply) a domain temperature
  POST /v1/regions/process        - OCR and score one uploaded region
  POST /v1/jobs                   - Process a page image with region specs
  GET  /v1/jobs/{id}              - Fetch a stored job result
  GET  /v1/review/queue           - List regions awaiting review
  POST /v1/review/regions/{id}    - Apply a reviewer decision
  GET  /v1/review/stats           - Review statistics
  GET  /v1/ws/score               - WebSocket scoring stream

Examples:
  trustroute serve
  trustroute serve --port 8080
  trustroute serve --host 0.0.0.0 --port 3000 --async`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		flags := cmd.Flags()

		sc := cfg.Server
		if flags.Changed("host") {
			sc.Host, _ = flags.GetString("host")
		}
		if flags.Changed("port") {
			sc.Port, _ = flags.GetInt("port")
		}
		if flags.Changed("cors-origin") {
			sc.CORSOrigin, _ = flags.GetString("cors-origin")
		}
		if flags.Changed("max-upload-size") {
			sc.MaxUploadMB, _ = flags.GetInt("max-upload-size")
		}
		if flags.Changed("timeout") {
			sc.TimeoutSec, _ = flags.GetInt("timeout")
		}
		if flags.Changed("shutdown-timeout") {
			sc.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
		}
		if flags.Changed("rate-limit") {
			sc.RateLimit, _ = flags.GetFloat64("rate-limit")
		}
		if flags.Changed("rate-burst") {
			sc.RateBurst, _ = flags.GetInt("rate-burst")
		}
		if flags.Changed("async") {
			sc.Async, _ = flags.GetBool("async")
		}

		if sc.Port < 1 || sc.Port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", sc.Port)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		decisions, err := buildDecisionEngine(cfg)
		if err != nil {
			return err
		}
		p, err := buildPipeline(cfg, decisions, st)
		if err != nil {
			return err
		}

		deps := server.Deps{
			Decisions: decisions,
			Pipeline:  p,
			Review:    review.New(st, cfg.Review, slog.Default()),
			Store:     st,
		}
		if sc.Async {
			jobs, err := queue.NewClient(cfg.Queue, cfg.Worker.JobTimeout)
			if err != nil {
				return fmt.Errorf("failed to connect job queue: %w", err)
			}
			defer func() { _ = jobs.Close() }()
			deps.Jobs = jobs
		}

		ver, _, _ := version.Info()
		srv, err := server.NewServer(server.Config{
			Host:        sc.Host,
			Port:        sc.Port,
			CORSOrigin:  sc.CORSOrigin,
			MaxUploadMB: int64(sc.MaxUploadMB),
			TimeoutSec:  sc.TimeoutSec,
			RateLimit:   sc.RateLimit,
			RateBurst:   sc.RateBurst,
			UploadDir:   sc.UploadDir,
			Version:     ver,
		}, deps, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer func() { _ = srv.Close() }()

		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", sc.Host, sc.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(sc.TimeoutSec) * time.Second,
		}

		go func() {
			slog.Info("Starting trustroute server", "host", sc.Host, "port", sc.Port,
				"storage", cfg.Storage.Driver, "ocr_engine", cfg.OCR.Engine, "async", sc.Async, "build", version.String())
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", sc.ShutdownTimeout))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(sc.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Float64("rate-limit", 20, "sustained requests per second per client (0 disables)")
	serveCmd.Flags().Int("rate-burst", 40, "request burst per client")
	serveCmd.Flags().Bool("async", false, "hand POST /v1/jobs to the queue workers")
}
