// Package review implements the human review queue and its audit trail.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/store"
)

// ErrNotFound is returned when the region does not exist or was already
// reviewed.
var ErrNotFound = errors.New("region not found or already reviewed")

// ValidationError describes a rejected review request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Config controls queue membership and paging.
type Config struct {
	TrustScoreThreshold float64 `mapstructure:"trust_score_threshold" yaml:"trust_score_threshold" json:"trust_score_threshold"`
	DefaultLimit        int     `mapstructure:"default_limit" yaml:"default_limit" json:"default_limit"`
	MaxLimit            int     `mapstructure:"max_limit" yaml:"max_limit" json:"max_limit"`
}

// DefaultConfig returns the default review settings.
func DefaultConfig() Config {
	return Config{
		TrustScoreThreshold: 0.6,
		DefaultLimit:        20,
		MaxLimit:            100,
	}
}

// Stats summarizes review progress over all stored regions.
type Stats struct {
	TotalRegions     int            `json:"total_regions"`
	VerifiedRegions  int            `json:"verified_regions"`
	PendingReview    int            `json:"pending_review"`
	VerificationRate float64        `json:"verification_rate"`
	ActionBreakdown  map[string]int `json:"action_breakdown"`
}

// Request is a single reviewer decision.
type Request struct {
	RegionID      string
	UserID        string
	Action        document.ReviewAction
	VerifiedValue *string
	Note          string
}

// Workflow serializes reviews per region on top of a Store.
type Workflow struct {
	store  store.Store
	cfg    Config
	locks  *keyedMutex
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Workflow. Non-positive limits fall back to the defaults.
func New(s store.Store, cfg Config, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	return &Workflow{
		store:  s,
		cfg:    cfg,
		locks:  newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (w *Workflow) pending(r *document.Region) bool {
	return r.TrustScore < w.cfg.TrustScoreThreshold && !r.HumanVerified
}

// Queue lists unverified regions below the trust threshold, lowest trust
// first. limit <= 0 uses the default page size; larger pages are capped.
func (w *Workflow) Queue(ctx context.Context, skip, limit int) ([]document.QueueItem, error) {
	if skip < 0 {
		return nil, &ValidationError{Field: "skip", Message: "must not be negative"}
	}
	if limit <= 0 {
		limit = w.cfg.DefaultLimit
	}
	limit = min(limit, w.cfg.MaxLimit)

	jobs, err := w.store.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	items := []document.QueueItem{}
	for _, job := range jobs {
		for _, r := range job.Fields {
			if w.pending(r) {
				items = append(items, document.NewQueueItem(job, r))
			}
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].TrustScore < items[j].TrustScore })

	if skip >= len(items) {
		return []document.QueueItem{}, nil
	}
	end := min(skip+limit, len(items))
	return items[skip:end], nil
}

// Review applies a reviewer decision. The region and its audit entry are
// persisted together; a region can be reviewed once.
func (w *Workflow) Review(ctx context.Context, req Request) (document.AuditLogEntry, error) {
	if err := validate(req); err != nil {
		return document.AuditLogEntry{}, err
	}

	unlock := w.locks.Lock(req.RegionID)
	defer unlock()

	entry, err := w.store.UpdateRegion(ctx, req.RegionID, func(job *document.Result, r *document.Region) (document.AuditLogEntry, error) {
		if r.HumanVerified {
			return document.AuditLogEntry{}, ErrNotFound
		}
		before := r.Snapshot()
		apply(r, req)
		note := req.Note
		if note == "" {
			note = "Region reviewed with action: " + string(req.Action)
		}
		return document.AuditLogEntry{
			ID:        uuid.NewString(),
			JobID:     job.JobID,
			RegionID:  r.ID,
			UserID:    req.UserID,
			Action:    req.Action,
			Before:    before,
			After:     r.Snapshot(),
			Note:      note,
			CreatedAt: w.now(),
		}, nil
	})
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrNotFound) {
		return document.AuditLogEntry{}, fmt.Errorf("region %s: %w", req.RegionID, ErrNotFound)
	}
	if err != nil {
		return document.AuditLogEntry{}, fmt.Errorf("failed to review region %s: %w", req.RegionID, err)
	}

	w.logger.Info("region reviewed",
		"region_id", entry.RegionID,
		"job_id", entry.JobID,
		"user_id", entry.UserID,
		"action", string(entry.Action),
		"trust_before", entry.Before.TrustScore,
		"trust_after", entry.After.TrustScore)
	return entry, nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.RegionID) == "" {
		return &ValidationError{Field: "region_id", Message: "is required"}
	}
	if strings.TrimSpace(req.UserID) == "" {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	if !req.Action.Valid() {
		return &ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", req.Action)}
	}
	if req.Action == document.ActionCorrect && (req.VerifiedValue == nil || *req.VerifiedValue == "") {
		return &ValidationError{Field: "verified_value", Message: "is required for correct"}
	}
	return nil
}

// apply mutates the region. skip only marks it verified.
func apply(r *document.Region, req Request) {
	switch req.Action {
	case document.ActionCorrect:
		v := *req.VerifiedValue
		r.NormalizedText = v
		r.VerifiedValue = &v
		r.TrustScore = 1.0
	case document.ActionApprove:
		r.TrustScore = max(r.TrustScore, 0.9)
	case document.ActionSkip:
	}
	r.HumanVerified = true
}

// Stats counts regions and audit actions across all jobs.
func (w *Workflow) Stats(ctx context.Context) (Stats, error) {
	jobs, err := w.store.ListResults(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list results: %w", err)
	}
	s := Stats{ActionBreakdown: map[string]int{}}
	for _, job := range jobs {
		for _, r := range job.Fields {
			s.TotalRegions++
			if r.HumanVerified {
				s.VerifiedRegions++
			}
			if w.pending(r) {
				s.PendingReview++
			}
		}
	}
	if s.TotalRegions > 0 {
		s.VerificationRate = float64(s.VerifiedRegions) / float64(s.TotalRegions) * 100
	}

	entries, err := w.store.AuditLog(ctx, "")
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read audit log: %w", err)
	}
	for _, e := range entries {
		s.ActionBreakdown[string(e.Action)]++
	}
	return s, nil
}

// AuditLog lists audit entries in append order. An empty jobID lists every
// job.
func (w *Workflow) AuditLog(ctx context.Context, jobID string) ([]document.AuditLogEntry, error) {
	entries, err := w.store.AuditLog(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}
