package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/queue"
	"github.com/MeKo-Tech/trustroute/internal/review"
	"github.com/MeKo-Tech/trustroute/internal/store"
	"github.com/MeKo-Tech/trustroute/internal/utils"
)

var errUploadTooLarge = errors.New("file too large")

// healthHandler returns server health status with runtime statistics.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    s.version,
		Time:       time.Now().UTC().Format(time.RFC3339),
		UptimeSec:  time.Since(s.started).Seconds(),
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     float64(mem.HeapAlloc) / (1024 * 1024),
		NumGC:      mem.NumGC,
		Pipeline:   s.pipeline != nil,
		Storage:    s.store != nil,
		Queue:      s.jobs != nil,
	})
}

// scoreHandler routes one document from its component confidences.
func (s *Server) scoreHandler(w http.ResponseWriter, r *http.Request) {
	var in decision.Input
	if !s.decodeJSON(w, r, &in) {
		return
	}
	d, err := s.decisions.ScoreAndRoute(in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	recordDecision(d)
	s.writeJSON(w, http.StatusOK, d)
}

// calibrateHandler fits a domain temperature and optionally adopts it.
func (s *Server) calibrateHandler(w http.ResponseWriter, r *http.Request) {
	var req CalibrateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	res, err := s.decisions.Calibrate(req.Confidences, req.Correctness, req.Domain)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if req.Apply {
		if err := s.decisions.SetTemperature(res.Domain, res.OptimalTemperature); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.logger.Info("temperature applied", "domain", res.Domain, "temperature", res.OptimalTemperature)
	}
	calibrationsTotal.WithLabelValues(res.Domain, strconv.FormatBool(req.Apply)).Inc()
	s.writeJSON(w, http.StatusOK, CalibrateResponse{CalibrationResult: res, Applied: req.Apply})
}

// processRegionHandler runs OCR and trust scoring on one uploaded region.
func (s *Server) processRegionHandler(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "region pipeline not initialized")
		return
	}
	data, _, err := s.readUpload(w, r)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}
	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "validation_error", "invalid image format")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	start := time.Now()
	res, err := s.pipeline.ProcessRegion(ctx, pipeline.RegionInput{
		ID:        r.FormValue("region_id"),
		Image:     img,
		FieldType: r.FormValue("field_type"),
		Domain:    r.FormValue("domain"),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	regionProcessingDuration.Observe(time.Since(start).Seconds())
	regionsProcessed.WithLabelValues(string(res.ReviewAction), string(res.ModelUsed)).Inc()
	s.writeJSON(w, http.StatusOK, res)
}

// submitJobHandler accepts a page image with optional region specs. With a
// queue configured the job is handed to the workers and 202 is returned;
// otherwise it is processed before answering.
func (s *Server) submitJobHandler(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "document pipeline not initialized")
		return
	}
	data, filename, err := s.readUpload(w, r)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	var specs []pipeline.RegionSpec
	if raw := r.FormValue("regions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &specs); err != nil {
			s.writeError(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("invalid regions: %v", err))
			return
		}
	}
	jobID := r.FormValue("job_id")
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if err := store.ValidateID(jobID); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	domain := r.FormValue("domain")

	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "validation_error", "invalid image format")
		return
	}

	if s.jobs != nil && s.uploadDir != "" {
		s.enqueueJob(w, r, jobID, filename, domain, data, specs)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	res, err := s.pipeline.ProcessDocument(ctx, pipeline.Document{
		JobID:    jobID,
		Filename: filename,
		Domain:   domain,
		Regions:  pipeline.CropRegions(img, specs, domain),
	}, pipeline.NewLogProgressCallback(s.logger, slog.LevelDebug, jobID))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	jobsSubmitted.WithLabelValues("sync").Inc()
	s.writeJSON(w, http.StatusOK, JobResponse{JobID: res.JobID, Status: res.Status, Result: res})
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request, jobID, filename, domain string, data []byte, specs []pipeline.RegionSpec) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !utils.IsSupportedImage(filename) {
		ext = ".png"
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.writeServiceError(w, fmt.Errorf("create upload dir: %w", err))
		return
	}
	// the upload lands under a temporary name and only replaces
	// <job><ext> once the job ID has been accepted
	tmp, err := os.CreateTemp(s.uploadDir, ".upload-*"+ext)
	if err != nil {
		s.writeServiceError(w, fmt.Errorf("store upload: %w", err))
		return
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.writeServiceError(w, fmt.Errorf("store upload: %w", err))
		return
	}

	if _, err := s.pipeline.Enqueue(r.Context(), jobID, filename); err != nil {
		s.writeServiceError(w, err)
		return
	}
	path := filepath.Join(s.uploadDir, jobID+ext)
	if err := os.Rename(tmp.Name(), path); err != nil {
		s.writeServiceError(w, fmt.Errorf("store upload: %w", err))
		return
	}
	if _, err := s.jobs.Enqueue(r.Context(), queue.Payload{
		JobID:     jobID,
		Filename:  filename,
		ImagePath: path,
		Domain:    domain,
		Regions:   specs,
	}); err != nil {
		s.writeServiceError(w, err)
		return
	}
	jobsSubmitted.WithLabelValues("queued").Inc()
	s.logger.Info("job queued", "job_id", jobID, "image_path", path, "regions", len(specs))
	s.writeJSON(w, http.StatusAccepted, JobResponse{JobID: jobID, Status: document.StatusQueued})
}

// jobHandler returns the stored result of a job.
func (s *Server) jobHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "storage not initialized")
		return
	}
	id := r.PathValue("id")
	if err := store.ValidateID(id); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	res, err := s.store.GetResult(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// reviewQueueHandler lists unverified low trust regions.
func (s *Server) reviewQueueHandler(w http.ResponseWriter, r *http.Request) {
	if s.review == nil {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "review workflow not initialized")
		return
	}
	skip, err := intParam(r, "skip")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	items, err := s.review.Queue(r.Context(), skip, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, QueueResponse{Items: items, Count: len(items), Skip: skip, Limit: limit})
}

// reviewRegionHandler applies a reviewer decision to a region.
func (s *Server) reviewRegionHandler(w http.ResponseWriter, r *http.Request) {
	if s.review == nil {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "review workflow not initialized")
		return
	}
	var req ReviewRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	entry, err := s.review.Review(r.Context(), review.Request{
		RegionID:      r.PathValue("id"),
		UserID:        req.UserID,
		Action:        document.ReviewAction(req.Action),
		VerifiedValue: req.VerifiedValue,
		Note:          req.Note,
	})
	if err != nil {
		reviewsTotal.WithLabelValues(req.Action, "rejected").Inc()
		s.writeServiceError(w, err)
		return
	}
	reviewsTotal.WithLabelValues(req.Action, "applied").Inc()
	s.writeJSON(w, http.StatusOK, entry)
}

// reviewStatsHandler summarizes review progress.
func (s *Server) reviewStatsHandler(w http.ResponseWriter, r *http.Request) {
	if s.review == nil {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "review workflow not initialized")
		return
	}
	stats, err := s.review.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func recordDecision(d decision.Decision) {
	decisionsTotal.WithLabelValues(string(d.ReviewAction), d.Domain).Inc()
	finalConfidence.WithLabelValues(d.Domain).Observe(d.FinalConfidence)
}

// readUpload reads the "image" part of a multipart request within the
// upload limit.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, "", errUploadTooLarge
		}
		return nil, "", fmt.Errorf("failed to parse form data: %w", err)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", errors.New("no image file provided")
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		return nil, "", errUploadTooLarge
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	uploadSizeBytes.Observe(float64(len(data)))
	return data, header.Filename, nil
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUploadTooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
		return
	}
	s.writeError(w, http.StatusBadRequest, "validation_error", err.Error())
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q is not an integer", name, raw)
	}
	return v, nil
}

// decodeJSON reads a JSON body and answers 400 when it is malformed.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_json", fmt.Sprintf("failed to parse request body: %v", err))
		return false
	}
	return true
}

// writeServiceError maps engine errors onto status codes. Only validation
// and not-found errors carry their message to the client.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var (
		reviewErr   *review.ValidationError
		decisionErr *decision.ValidationError
		imageErr    *utils.ImageProcessingError
	)
	switch {
	case errors.As(err, &reviewErr), errors.As(err, &decisionErr):
		s.writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, review.ErrNotFound), errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, pipeline.ErrJobExists):
		s.writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &imageErr), errors.Is(err, image.ErrFormat):
		s.writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "timeout", "processing timed out")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
