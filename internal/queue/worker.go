package queue

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/utils"
)

// Processor runs a document job.
type Processor interface {
	ProcessDocument(ctx context.Context, doc pipeline.Document, progress pipeline.ProgressCallback) (*document.Result, error)
}

// ImageLoader reads the page image of a job.
type ImageLoader func(path string) (image.Image, error)

func loadImage(path string) (image.Image, error) {
	img, _, err := utils.LoadImage(path)
	return img, err
}

// Handler turns document tasks into pipeline runs.
type Handler struct {
	processor Processor
	load      ImageLoader
	logger    *slog.Logger
}

// NewHandler creates a Handler. A nil loader reads images from disk.
func NewHandler(p Processor, load ImageLoader, logger *slog.Logger) *Handler {
	if load == nil {
		load = loadImage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{processor: p, load: load, logger: logger}
}

// ProcessTask implements asynq.Handler. Malformed payloads, unreadable
// images, timed out jobs and job IDs that are already taken are not
// retried.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	p, err := ParsePayload(t)
	if err != nil {
		h.logger.Error("dropping malformed task", "type", t.Type(), "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	log := h.logger.With("job_id", p.JobID)

	img, err := h.load(p.ImagePath)
	if err != nil {
		log.Error("failed to load job image", "path", p.ImagePath, "error", err)
		return fmt.Errorf("job %s: %w: %w", p.JobID, err, asynq.SkipRetry)
	}

	doc := pipeline.Document{
		JobID:    p.JobID,
		Filename: p.Filename,
		Domain:   p.Domain,
		Regions:  pipeline.CropRegions(img, p.Regions, p.Domain),
	}
	res, err := h.processor.ProcessDocument(ctx, doc, pipeline.NewLogProgressCallback(log, slog.LevelDebug, p.JobID))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, pipeline.ErrJobExists) {
			return fmt.Errorf("job %s: %w: %w", p.JobID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("job %s: %w", p.JobID, err)
	}

	log.Info("task done", "status", string(res.Status), "regions", len(res.Fields), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Worker consumes document tasks from Redis.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// NewWorker builds an asynq server that serves cfg.Name with the given
// handler.
func NewWorker(cfg Config, h *Handler, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: max(cfg.Concurrency, 1),
		Queues:      map[string]int{cfg.Name: 10, "default": 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return min(time.Duration(5*(1<<uint(n)))*time.Second, time.Minute)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			logger.Error("task failed", "type", t.Type(), "error", err)
		}),
		Logger: slogAdapter{logger},
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeProcessDocument, h)
	return &Worker{server: server, mux: mux, logger: logger}, nil
}

// Run serves until ctx is canceled and then shuts down gracefully.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	w.logger.Info("worker started")
	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("worker stopped")
	return nil
}

// slogAdapter satisfies asynq.Logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
