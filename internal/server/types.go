package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/queue"
	"github.com/MeKo-Tech/trustroute/internal/review"
	"github.com/MeKo-Tech/trustroute/internal/store"
)

// regionProcessor is the part of the pipeline the server drives.
type regionProcessor interface {
	ProcessRegion(ctx context.Context, in pipeline.RegionInput) (pipeline.RegionResult, error)
	ProcessDocument(ctx context.Context, doc pipeline.Document, progress pipeline.ProgressCallback) (*document.Result, error)
	Enqueue(ctx context.Context, jobID, filename string) (*document.Result, error)
}

// jobSubmitter hands document jobs to the background workers.
type jobSubmitter interface {
	Enqueue(ctx context.Context, p queue.Payload) (*asynq.TaskInfo, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	decisions *decision.Engine
	pipeline  regionProcessor
	review    *review.Workflow
	store     store.Store
	jobs      jobSubmitter

	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	uploadDir   string
	version     string
	rateLimiter *RateLimiter
	started     time.Time
	logger      *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// RateLimit is the sustained requests per second per client; 0 disables limiting.
	RateLimit float64
	RateBurst int
	// UploadDir receives job images handed to the queue workers.
	UploadDir string
	Version   string
}

// Deps are the engines behind the endpoints. Pipeline, Review and Store
// may be nil; their endpoints then answer 503. Jobs is optional: without
// it document jobs run synchronously.
type Deps struct {
	Decisions *decision.Engine
	Pipeline  *pipeline.Pipeline
	Review    *review.Workflow
	Store     store.Store
	Jobs      *queue.Client
}

// Response types for API endpoints.
type HealthResponse struct {
	Status     string  `json:"status"`
	Version    string  `json:"version,omitempty"`
	Time       string  `json:"time"`
	UptimeSec  float64 `json:"uptime_sec"`
	Goroutines int     `json:"goroutines"`
	HeapMB     float64 `json:"heap_alloc_mb"`
	NumGC      uint32  `json:"num_gc"`
	Pipeline   bool    `json:"pipeline_ready"`
	Storage    bool    `json:"storage_ready"`
	Queue      bool    `json:"queue_ready"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CalibrateRequest carries labeled confidences for one domain. Apply swaps
// the fitted temperature into the live profile.
type CalibrateRequest struct {
	Confidences []float64 `json:"confidences"`
	Correctness []bool    `json:"correctness"`
	Domain      string    `json:"domain"`
	Apply       bool      `json:"apply"`
}

// CalibrateResponse adds whether the temperature was adopted.
type CalibrateResponse struct {
	decision.CalibrationResult
	Applied bool `json:"applied"`
}

// ReviewRequest is the body of POST /v1/review/regions/{id}.
type ReviewRequest struct {
	UserID        string  `json:"user_id"`
	Action        string  `json:"action"`
	VerifiedValue *string `json:"verified_value,omitempty"`
	Note          string  `json:"note,omitempty"`
}

// QueueResponse is one page of the review queue.
type QueueResponse struct {
	Items []document.QueueItem `json:"items"`
	Count int                  `json:"count"`
	Skip  int                  `json:"skip"`
	Limit int                  `json:"limit"`
}

// JobResponse acknowledges a submitted document job.
type JobResponse struct {
	JobID  string             `json:"job_id"`
	Status document.JobStatus `json:"status"`
	Result *document.Result   `json:"result,omitempty"`
}

// NewServer wires the engines into a server. Only Decisions is required.
func NewServer(config Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Decisions == nil {
		return nil, errors.New("server requires a decision engine")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 50
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 30
	}

	s := &Server{
		decisions:   deps.Decisions,
		review:      deps.Review,
		store:       deps.Store,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
		uploadDir:   config.UploadDir,
		version:     config.Version,
		started:     time.Now(),
		logger:      logger,
	}
	// typed nils must not end up in the interfaces
	if deps.Pipeline != nil {
		s.pipeline = deps.Pipeline
	}
	if deps.Jobs != nil {
		s.jobs = deps.Jobs
	}
	if config.RateLimit > 0 {
		s.rateLimiter = NewRateLimiter(config.RateLimit, config.RateBurst)
	}
	return s, nil
}

// Close stops background helpers. Engines and stores are owned by the caller.
func (s *Server) Close() error {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.Handle("GET /metrics", metricsHandler())

	mux.HandleFunc("POST /v1/score", s.wrap(s.scoreHandler))
	mux.HandleFunc("POST /v1/calibrate", s.wrap(s.calibrateHandler))
	mux.HandleFunc("POST /v1/regions/process", s.wrap(s.processRegionHandler))
	mux.HandleFunc("POST /v1/jobs", s.wrap(s.submitJobHandler))
	mux.HandleFunc("GET /v1/jobs/{id}", s.wrap(s.jobHandler))
	mux.HandleFunc("GET /v1/review/queue", s.wrap(s.reviewQueueHandler))
	mux.HandleFunc("POST /v1/review/regions/{id}", s.wrap(s.reviewRegionHandler))
	mux.HandleFunc("GET /v1/review/stats", s.wrap(s.reviewStatsHandler))
	mux.HandleFunc("GET /v1/ws/score", s.rateLimitMiddleware(s.scoreWebSocketHandler))

	// corsMiddleware answers preflight requests itself
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

func (s *Server) wrap(h http.HandlerFunc) http.HandlerFunc {
	return s.corsMiddleware(s.rateLimitMiddleware(h))
}
