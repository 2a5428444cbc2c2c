package review

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/MeKo-Tech/trustroute/internal/document"
)

// TrainingItem pairs what the pipeline read for a region with the value a
// reviewer confirmed. One item is written per line of training.jsonl.
type TrainingItem struct {
	JobID          string                `json:"job_id"`
	RegionID       string                `json:"region_id"`
	Page           int                   `json:"page"`
	BBox           document.BBox         `json:"bbox"`
	Label          string                `json:"label,omitempty"`
	FieldType      string                `json:"field_type,omitempty"`
	RawText        string                `json:"raw_text"`
	NormalizedText string                `json:"normalized_text"`
	VerifiedValue  string                `json:"verified_value"`
	Action         document.ReviewAction `json:"action"`
	UserID         string                `json:"user_id"`
}

// TrainingItems joins every audit entry with its region. Skipped regions
// carry no confirmed value and are left out; an approval confirms the
// normalized text as it stood.
func (w *Workflow) TrainingItems(ctx context.Context) ([]TrainingItem, error) {
	jobs, err := w.store.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	regions := make(map[string]*document.Region)
	for _, job := range jobs {
		for _, f := range job.Fields {
			regions[job.JobID+"/"+f.ID] = f
		}
	}

	entries, err := w.AuditLog(ctx, "")
	if err != nil {
		return nil, err
	}
	items := make([]TrainingItem, 0, len(entries))
	for _, e := range entries {
		var verified string
		switch {
		case e.Action == document.ActionSkip:
			continue
		case e.After.VerifiedValue != nil:
			verified = *e.After.VerifiedValue
		default:
			verified = e.After.NormalizedText
		}
		r, ok := regions[e.JobID+"/"+e.RegionID]
		if !ok {
			w.logger.Warn("audit entry without region", "job_id", e.JobID, "region_id", e.RegionID)
			continue
		}
		items = append(items, TrainingItem{
			JobID:          e.JobID,
			RegionID:       e.RegionID,
			Page:           r.Page,
			BBox:           r.BBox,
			Label:          r.Label,
			FieldType:      r.FieldType,
			RawText:        r.RawText,
			NormalizedText: e.Before.NormalizedText,
			VerifiedValue:  verified,
			Action:         e.Action,
			UserID:         e.UserID,
		})
	}
	return items, nil
}

// ExportTraining writes TrainingItems to out as JSON lines and returns how
// many were written.
func (w *Workflow) ExportTraining(ctx context.Context, out io.Writer) (int, error) {
	items, err := w.TrainingItems(ctx)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(out)
	for i := range items {
		if err := enc.Encode(&items[i]); err != nil {
			return i, fmt.Errorf("failed to write training item: %w", err)
		}
	}
	w.logger.Info("training data exported", "items", len(items))
	return len(items), nil
}
