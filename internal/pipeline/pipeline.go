// Package pipeline runs regions through text type classification,
// multi-track OCR, post-processing, lingua and trust scoring, and turns a
// set of regions into a routed, persisted document result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/lingua"
	"github.com/MeKo-Tech/trustroute/internal/ocr"
	"github.com/MeKo-Tech/trustroute/internal/postprocess"
	"github.com/MeKo-Tech/trustroute/internal/scoring"
	"github.com/MeKo-Tech/trustroute/internal/store"
)

// Config holds the worker pool and job settings.
type Config struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	JobTimeout  time.Duration `mapstructure:"job_timeout" yaml:"job_timeout" json:"job_timeout"`
	Domain      string        `mapstructure:"domain" yaml:"domain" json:"domain"`
}

// DefaultConfig returns two workers and a ten minute job timeout.
func DefaultConfig() Config {
	return Config{
		Concurrency: 2,
		JobTimeout:  600 * time.Second,
		Domain:      decision.DefaultDomain,
	}
}

// Deps are the components a Pipeline is built from. Store may be nil when
// only ProcessRegion is used; a nil Lingua scorer uses the default weights.
type Deps struct {
	OCR       *ocr.MultiTrack
	Post      *postprocess.Processor
	Lingua    *lingua.Scorer
	Scorer    *scoring.Scorer
	Decisions *decision.Engine
	Store     store.Store
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	ocr       *ocr.MultiTrack
	post      *postprocess.Processor
	lingua    *lingua.Scorer
	scorer    *scoring.Scorer
	decisions *decision.Engine
	store     store.Store
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New checks the dependencies and applies config defaults.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if deps.OCR == nil || deps.Post == nil || deps.Scorer == nil {
		return nil, errors.New("pipeline requires OCR, post-processor and scorer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lingua == nil {
		deps.Lingua = lingua.New(lingua.DefaultConfig())
	}
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.Domain == "" {
		cfg.Domain = def.Domain
	}
	return &Pipeline{
		ocr:       deps.OCR,
		post:      deps.Post,
		lingua:    deps.Lingua,
		scorer:    deps.Scorer,
		decisions: deps.Decisions,
		store:     deps.Store,
		cfg:       cfg,
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// RegionInput is one region image with its layout information.
type RegionInput struct {
	ID        string
	Image     image.Image
	FieldType string
	Domain    string
	Page      int
	BBox      document.BBox
	Label     string
	PII       []document.PIIEntity
}

// RegionMetadata carries the intermediate numbers behind a region result.
type RegionMetadata struct {
	OCRTimeMs            float64            `json:"ocr_time_ms"`
	TotalTimeMs          float64            `json:"total_time_ms"`
	TextTypeConfidence   float64            `json:"text_type_confidence"`
	PrimaryModel         ocr.ModelType      `json:"primary_model"`
	PrimaryConfidence    float64            `json:"primary_confidence"`
	FallbackConfidence   *float64           `json:"fallback_confidence"`
	Lingua               lingua.Score       `json:"lingua"`
	DictionaryMatch      float64            `json:"dictionary_match"`
	PatternValidation    float64            `json:"pattern_validation"`
	UnknownWords         int                `json:"unknown_word_count"`
	ConfidenceComponents scoring.Components `json:"confidence_components"`
	PenaltiesApplied     []string           `json:"penalties_applied"`
	Degraded             []string           `json:"degraded,omitempty"`
}

// RegionResult is the outcome of ProcessRegion.
type RegionResult struct {
	RegionID           string         `json:"region_id"`
	Text               string         `json:"text"`
	RawText            string         `json:"raw_text"`
	Confidence         float64        `json:"confidence"`
	LinguaConfidence   float64        `json:"lingua_confidence"`
	TrustScore         float64        `json:"trust_score"`
	TextType           string         `json:"text_type"`
	ReviewAction       scoring.Action `json:"review_action"`
	NeedsReview        bool           `json:"needs_review"`
	ModelUsed          ocr.ModelType  `json:"model_used"`
	Switched           bool           `json:"switched"`
	CorrectionsApplied []string       `json:"corrections_applied"`
	Metadata           RegionMetadata `json:"metadata"`
}

// ProcessRegion recognizes and scores a single region. Engine failures
// degrade the region to confidence 0; only context cancellation is
// returned as an error.
func (p *Pipeline) ProcessRegion(ctx context.Context, in RegionInput) (RegionResult, error) {
	start := time.Now()
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	domain := in.Domain
	if domain == "" {
		domain = p.cfg.Domain
	}

	o, err := p.ocr.Process(ctx, in.Image)
	if err != nil {
		return RegionResult{}, fmt.Errorf("region %s: %w", id, err)
	}

	post := p.post.Process(o.Text, postDomain(domain))
	pattern := scoring.ValidatePattern(post.Text, in.FieldType)
	ling := p.lingua.Score(lingua.Input{
		Text:              post.Text,
		OCRConfidence:     o.Confidence,
		Corrections:       textCorrections(post.CorrectionsApplied),
		DictionaryMatch:   post.DictionaryMatch,
		HasDictionary:     p.post.DictionarySize() > 0,
		PatternValidation: pattern,
		FieldType:         in.FieldType,
	})

	// no language model is wired, so its component stays at 0
	score, err := p.scorer.TrustScore(scoring.Components{
		OCR:               o.Confidence,
		LanguageModel:     0,
		DictionaryMatch:   post.DictionaryMatch,
		PatternValidation: pattern,
	}, scoring.Signals{
		ModelSwitched:    o.Switched,
		UnknownWordCount: post.UnknownWords,
		PatternMatched:   p.scorer.PatternMatched(in.FieldType, pattern),
	})
	if err != nil {
		return RegionResult{}, fmt.Errorf("region %s: %w", id, err)
	}

	res := RegionResult{
		RegionID:           id,
		Text:               post.Text,
		RawText:            o.RawText,
		Confidence:         o.Confidence,
		LinguaConfidence:   ling.Confidence,
		TrustScore:         score.TrustScore,
		TextType:           string(o.TextType),
		ReviewAction:       score.ReviewAction,
		NeedsReview:        score.NeedsReview,
		ModelUsed:          o.ModelUsed,
		Switched:           o.Switched,
		CorrectionsApplied: post.CorrectionsApplied,
		Metadata: RegionMetadata{
			OCRTimeMs:            o.ProcessingTimeMs,
			TextTypeConfidence:   o.TextTypeConfidence,
			PrimaryModel:         o.PrimaryModel,
			PrimaryConfidence:    o.PrimaryConfidence,
			FallbackConfidence:   o.FallbackConfidence,
			Lingua:               ling,
			DictionaryMatch:      post.DictionaryMatch,
			PatternValidation:    pattern,
			UnknownWords:         post.UnknownWords,
			ConfidenceComponents: score.Components,
			PenaltiesApplied:     score.PenaltiesApplied,
			Degraded:             o.Degraded,
		},
	}
	res.Metadata.TotalTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	p.logger.Debug("region processed",
		"region_id", id,
		"trust_score", res.TrustScore,
		"lingua_confidence", res.LinguaConfidence,
		"script", ling.Script,
		"review_action", string(res.ReviewAction),
		"model_used", string(res.ModelUsed),
		"switched", res.Switched)
	return res, nil
}

// postDomain maps a routing domain to the abbreviation table to apply.
// The general and global domains expand every table.
func postDomain(domain string) string {
	switch strings.ToLower(domain) {
	case decision.DefaultDomain, decision.GlobalDomain:
		return ""
	}
	return domain
}

// textCorrections counts the changes to the words themselves; collapsing
// whitespace does not count.
func textCorrections(applied []string) int {
	n := 0
	for _, c := range applied {
		if c != postprocess.TagBasicCleanup {
			n++
		}
	}
	return n
}

// toRegion builds the persisted region.
func toRegion(in RegionInput, r RegionResult) *document.Region {
	return &document.Region{
		ID:               r.RegionID,
		Page:             max(in.Page, 1),
		BBox:             in.BBox,
		Label:            in.Label,
		FieldType:        in.FieldType,
		RawText:          r.RawText,
		NormalizedText:   r.Text,
		OCRConfidence:    r.Confidence,
		LinguaConfidence: r.LinguaConfidence,
		PII:              in.PII,
		TrustScore:       r.TrustScore,
	}
}
