package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustroute_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trustroute_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Routing decisions
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustroute_decisions_total",
			Help: "Routing decisions by review action and domain",
		},
		[]string{"action", "domain"},
	)

	finalConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trustroute_final_confidence",
			Help:    "Calibrated final confidence of routed documents",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .85, .9, .95, 1},
		},
		[]string{"domain"},
	)

	calibrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustroute_calibrations_total",
			Help: "Temperature fits by domain and whether they were applied",
		},
		[]string{"domain", "applied"},
	)

	// Region processing
	regionsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustroute_regions_processed_total",
			Help: "Regions processed by review action",
		},
		[]string{"review_action", "model"},
	)

	regionProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trustroute_region_processing_duration_seconds",
			Help:    "Region OCR and scoring duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	jobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustroute_jobs_submitted_total",
			Help: "Document jobs by execution mode",
		},
		[]string{"mode"}, // mode: queued, sync
	)

	// Review workflow
	reviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustroute_reviews_total",
			Help: "Review requests by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustroute_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trustroute_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustroute_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustroute_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
