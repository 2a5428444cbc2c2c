// Package document holds the records shared by the decision engine, the
// review workflow and the stores: regions, job results and audit entries.
package document

import (
	"time"
)

// BBox is an axis-aligned region box in page pixel coordinates.
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PIIEntity is a typed span detected inside a region's text.
type PIIEntity struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Region is a single extracted field of a document page.
type Region struct {
	ID               string      `json:"id"`
	Page             int         `json:"page"`
	BBox             BBox        `json:"bbox"`
	Label            string      `json:"label"`
	FieldType        string      `json:"field_type,omitempty"`
	RawText          string      `json:"raw_text"`
	NormalizedText   string      `json:"normalized_text"`
	OCRConfidence    float64     `json:"ocr_confidence"`
	LinguaConfidence float64     `json:"lingua_confidence"`
	PII              []PIIEntity `json:"pii,omitempty"`
	TrustScore       float64     `json:"trust_score"`
	HumanVerified    bool        `json:"human_verified"`
	VerifiedValue    *string     `json:"verified_value,omitempty"`
}

// ComplyConfidence is the mean PII detection confidence of the region,
// or 1.0 when nothing was detected.
func (r *Region) ComplyConfidence() float64 {
	if len(r.PII) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, e := range r.PII {
		sum += e.Confidence
	}
	return sum / float64(len(r.PII))
}

// Snapshot captures the review-relevant state of a region.
func (r *Region) Snapshot() Snapshot {
	s := Snapshot{
		NormalizedText: r.NormalizedText,
		TrustScore:     r.TrustScore,
		HumanVerified:  r.HumanVerified,
	}
	if r.VerifiedValue != nil {
		v := *r.VerifiedValue
		s.VerifiedValue = &v
	}
	return s
}

// Clone returns a deep copy of the region.
func (r *Region) Clone() *Region {
	c := *r
	if r.PII != nil {
		c.PII = append([]PIIEntity(nil), r.PII...)
	}
	if r.VerifiedValue != nil {
		v := *r.VerifiedValue
		c.VerifiedValue = &v
	}
	return &c
}

// Snapshot is the before/after state recorded in an audit entry.
type Snapshot struct {
	NormalizedText string  `json:"normalized_text"`
	TrustScore     float64 `json:"trust_score"`
	HumanVerified  bool    `json:"human_verified"`
	VerifiedValue  *string `json:"verified_value"`
}

// ReviewAction is a reviewer's decision on a region.
type ReviewAction string

const (
	ActionApprove ReviewAction = "approve"
	ActionCorrect ReviewAction = "correct"
	ActionSkip    ReviewAction = "skip"
)

// Valid reports whether a is one of the known review actions.
func (a ReviewAction) Valid() bool {
	switch a {
	case ActionApprove, ActionCorrect, ActionSkip:
		return true
	}
	return false
}

// AuditLogEntry records one review transition. Entries are append-only.
type AuditLogEntry struct {
	ID        string       `json:"id"`
	JobID     string       `json:"job_id"`
	RegionID  string       `json:"region_id"`
	UserID    string       `json:"user_id"`
	Action    ReviewAction `json:"action"`
	Before    Snapshot     `json:"before_state"`
	After     Snapshot     `json:"after_state"`
	Note      string       `json:"note"`
	CreatedAt time.Time    `json:"created_at"`
}

// JobStatus is the lifecycle state of a document job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// ProcessingMeta describes how a job was processed.
type ProcessingMeta struct {
	ProcessingTimeMs float64           `json:"processing_time_ms"`
	Workers          int               `json:"workers"`
	Domain           string            `json:"domain"`
	ModelSwitches    int               `json:"model_switches"`
	DegradedRegions  int               `json:"degraded_regions"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// Result is the persisted record of a document job.
type Result struct {
	JobID             string         `json:"job_id"`
	Status            JobStatus      `json:"status"`
	Filename          string         `json:"filename"`
	Pages             int            `json:"pages"`
	Fields            []*Region      `json:"fields"`
	CreatedAt         time.Time      `json:"created_at"`
	ProcessingMeta    ProcessingMeta `json:"processing_meta"`
	ConfidenceMetrics any            `json:"confidence_metrics,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// Region returns the region with the given id, or nil.
func (r *Result) Region(id string) *Region {
	for _, f := range r.Fields {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy of the result. ConfidenceMetrics is shared.
func (r *Result) Clone() *Result {
	c := *r
	if r.Fields != nil {
		c.Fields = make([]*Region, len(r.Fields))
		for i, f := range r.Fields {
			c.Fields[i] = f.Clone()
		}
	}
	if r.ProcessingMeta.Extra != nil {
		c.ProcessingMeta.Extra = make(map[string]string, len(r.ProcessingMeta.Extra))
		for k, v := range r.ProcessingMeta.Extra {
			c.ProcessingMeta.Extra[k] = v
		}
	}
	return &c
}

// QueueItem is the review queue projection of a region.
type QueueItem struct {
	RegionID       string      `json:"region_id"`
	JobID          string      `json:"job_id"`
	Filename       string      `json:"filename"`
	Page           int         `json:"page"`
	BBox           BBox        `json:"bbox"`
	Label          string      `json:"label"`
	RawText        string      `json:"raw_text"`
	NormalizedText string      `json:"normalized_text"`
	TrustScore     float64     `json:"trust_score"`
	PII            []PIIEntity `json:"pii,omitempty"`
}

// NewQueueItem projects a region of the given job into a queue item.
func NewQueueItem(job *Result, r *Region) QueueItem {
	return QueueItem{
		RegionID:       r.ID,
		JobID:          job.JobID,
		Filename:       job.Filename,
		Page:           r.Page,
		BBox:           r.BBox,
		Label:          r.Label,
		RawText:        r.RawText,
		NormalizedText: r.NormalizedText,
		TrustScore:     r.TrustScore,
		PII:            r.PII,
	}
}
