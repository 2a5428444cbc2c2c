package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/store"
	"github.com/MeKo-Tech/trustroute/internal/utils"
)

// RegionSpec locates a region on a page image. A zero bbox selects the
// whole image.
type RegionSpec struct {
	ID        string        `json:"id,omitempty"`
	Page      int           `json:"page,omitempty"`
	BBox      document.BBox `json:"bbox"`
	Label     string        `json:"label,omitempty"`
	FieldType string        `json:"field_type,omitempty"`
}

// Document is a job to process.
type Document struct {
	JobID    string
	Filename string
	Pages    int
	Domain   string
	Regions  []RegionInput
}

// DocumentMetrics is stored as the confidence metrics of a completed job.
type DocumentMetrics struct {
	AvgOCRConfidence    float64            `json:"avg_ocr_confidence"`
	AvgLinguaConfidence float64            `json:"avg_lingua_confidence"`
	AvgComplyConfidence float64            `json:"avg_comply_confidence"`
	Decision            *decision.Decision `json:"decision,omitempty"`
}

// ErrJobExists is returned when a job ID is reused while an earlier job
// under it is still live. Only failed jobs may be resubmitted.
var ErrJobExists = errors.New("job already exists")

// CropRegions cuts one RegionInput per spec out of a page image.
func CropRegions(img image.Image, specs []RegionSpec, domain string) []RegionInput {
	if len(specs) == 0 {
		specs = []RegionSpec{{Label: "page"}}
	}
	out := make([]RegionInput, len(specs))
	for i, s := range specs {
		b := s.BBox
		if b.Width == 0 && b.Height == 0 {
			bounds := img.Bounds()
			b = document.BBox{X: 0, Y: 0, Width: bounds.Dx(), Height: bounds.Dy()}
		}
		out[i] = RegionInput{
			ID:        s.ID,
			Image:     utils.CropRegion(img, b.X, b.Y, b.Width, b.Height),
			FieldType: s.FieldType,
			Domain:    domain,
			Page:      max(s.Page, 1),
			BBox:      b,
			Label:     s.Label,
		}
	}
	return out
}

// Enqueue records a queued job so its status is visible before a worker
// picks it up.
func (p *Pipeline) Enqueue(ctx context.Context, jobID, filename string) (*document.Result, error) {
	if p.store == nil {
		return nil, errors.New("pipeline has no store")
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if err := store.ValidateID(jobID); err != nil {
		return nil, err
	}
	if err := p.claim(jobID); err != nil {
		return nil, err
	}
	defer p.release(jobID)
	if _, err := p.existing(ctx, jobID, document.StatusFailed); err != nil {
		return nil, err
	}
	res := &document.Result{
		JobID:     jobID,
		Status:    document.StatusQueued,
		Filename:  filename,
		Fields:    []*document.Region{},
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.SaveResult(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to save queued job: %w", err)
	}
	return res, nil
}

// ProcessDocument runs every region of doc through the worker pool within
// the job timeout, routes the document on the mean OCR, lingua and comply
// confidences of its regions and persists the result when a store is
// configured. A failed or timed out job is persisted with status failed
// and returned together with the error. An existing job under the same ID
// is only replaced while it is queued or failed; anything else returns
// ErrJobExists and leaves the stored result and its reviews untouched.
func (p *Pipeline) ProcessDocument(ctx context.Context, doc Document, progress ProgressCallback) (*document.Result, error) {
	start := time.Now()
	if doc.JobID == "" {
		doc.JobID = uuid.NewString()
	}
	if err := store.ValidateID(doc.JobID); err != nil {
		return nil, err
	}
	domain := doc.Domain
	if domain == "" {
		domain = p.cfg.Domain
	}

	res := &document.Result{
		JobID:     doc.JobID,
		Status:    document.StatusProcessing,
		Filename:  doc.Filename,
		Pages:     max(doc.Pages, 1),
		Fields:    []*document.Region{},
		CreatedAt: time.Now().UTC(),
		ProcessingMeta: document.ProcessingMeta{
			Workers: p.cfg.Concurrency,
			Domain:  domain,
		},
	}
	if err := p.claim(doc.JobID); err != nil {
		return nil, err
	}
	defer p.release(doc.JobID)
	if p.store != nil {
		prev, err := p.existing(ctx, doc.JobID, document.StatusQueued, document.StatusFailed)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			res.CreatedAt = prev.CreatedAt
			if res.Filename == "" {
				res.Filename = prev.Filename
			}
		}
		if err := p.store.SaveResult(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to save job: %w", err)
		}
	}
	p.logger.Info("processing job", "job_id", doc.JobID, "regions", len(doc.Regions), "domain", domain)

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	for i := range doc.Regions {
		if doc.Regions[i].Domain == "" {
			doc.Regions[i].Domain = domain
		}
	}
	results, err := p.ProcessRegions(jobCtx, doc.Regions, progress)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("job timed out after %v: %w", p.cfg.JobTimeout, err)
		}
		return p.fail(res, start, err)
	}

	for i, r := range results {
		res.Fields = append(res.Fields, toRegion(doc.Regions[i], r))
		if r.Switched {
			res.ProcessingMeta.ModelSwitches++
		}
		if len(r.Metadata.Degraded) > 0 {
			res.ProcessingMeta.DegradedRegions++
		}
	}

	metrics := documentMetrics(res.Fields)
	if p.decisions != nil {
		d, err := p.decisions.ScoreAndRoute(decision.Input{
			DocumentID: doc.JobID,
			OCR:        metrics.AvgOCRConfidence,
			Lingua:     metrics.AvgLinguaConfidence,
			Comply:     metrics.AvgComplyConfidence,
			Domain:     domain,
		})
		if err != nil {
			return p.fail(res, start, err)
		}
		metrics.Decision = &d
	}
	res.ConfidenceMetrics = metrics
	res.Status = document.StatusCompleted
	res.ProcessingMeta.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	if p.store != nil {
		if err := p.store.SaveResult(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to save job: %w", err)
		}
	}
	attrs := []any{"job_id", doc.JobID, "regions", len(res.Fields), "elapsed_ms", res.ProcessingMeta.ProcessingTimeMs}
	if metrics.Decision != nil {
		attrs = append(attrs, "review_action", string(metrics.Decision.ReviewAction), "final_confidence", metrics.Decision.FinalConfidence)
	}
	p.logger.Info("job completed", attrs...)
	return res, nil
}

// existing returns the stored job under jobID, or nil when there is none.
// A stored job whose status is not in replaceable yields ErrJobExists.
func (p *Pipeline) existing(ctx context.Context, jobID string, replaceable ...document.JobStatus) (*document.Result, error) {
	prev, err := p.store.GetResult(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}
	if !slices.Contains(replaceable, prev.Status) {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobExists, jobID, prev.Status)
	}
	return prev, nil
}

// claim marks jobID as in flight in this process so two concurrent
// submissions cannot both pass the store check.
func (p *Pipeline) claim(jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[jobID]; busy {
		return fmt.Errorf("%w: %s is being processed", ErrJobExists, jobID)
	}
	p.inflight[jobID] = struct{}{}
	return nil
}

func (p *Pipeline) release(jobID string) {
	p.mu.Lock()
	delete(p.inflight, jobID)
	p.mu.Unlock()
}

// fail records the error on the job and persists it outside the job
// context, which may already be expired.
func (p *Pipeline) fail(res *document.Result, start time.Time, cause error) (*document.Result, error) {
	res.Status = document.StatusFailed
	res.Error = cause.Error()
	res.Fields = []*document.Region{}
	res.ProcessingMeta.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	p.logger.Error("job failed", "job_id", res.JobID, "error", cause)

	if p.store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.store.SaveResult(saveCtx, res); err != nil {
			return res, errors.Join(cause, fmt.Errorf("failed to save failed job: %w", err))
		}
	}
	return res, cause
}

// documentMetrics averages the region confidences. No regions give zeros.
func documentMetrics(fields []*document.Region) DocumentMetrics {
	var m DocumentMetrics
	if len(fields) == 0 {
		return m
	}
	for _, f := range fields {
		m.AvgOCRConfidence += f.OCRConfidence
		m.AvgLinguaConfidence += f.LinguaConfidence
		m.AvgComplyConfidence += f.ComplyConfidence()
	}
	n := float64(len(fields))
	m.AvgOCRConfidence /= n
	m.AvgLinguaConfidence /= n
	m.AvgComplyConfidence /= n
	return m
}
