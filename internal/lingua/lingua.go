// Package lingua computes a region's language confidence: how far its text
// can be trusted as language, combining OCR certainty with how much the
// post-processor had to change, the dictionary match, field validation and
// whether the text stays in one script.
package lingua

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/trustroute/internal/scoring"
)

// Weights of the five lingua components. They are expected to sum to 1.
type Weights struct {
	OCR               float64 `mapstructure:"ocr_confidence" yaml:"ocr_confidence" json:"ocr_confidence"`
	Correction        float64 `mapstructure:"correction_confidence" yaml:"correction_confidence" json:"correction_confidence"`
	DictionaryMatch   float64 `mapstructure:"dictionary_match" yaml:"dictionary_match" json:"dictionary_match"`
	DomainValidation  float64 `mapstructure:"domain_validation" yaml:"domain_validation" json:"domain_validation"`
	LanguageCoherence float64 `mapstructure:"language_coherence" yaml:"language_coherence" json:"language_coherence"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.OCR + w.Correction + w.DictionaryMatch + w.DomainValidation + w.LanguageCoherence
}

// Defaults stand in for components that have no evidence: no dictionary
// loaded, or no field type to validate against.
type Defaults struct {
	DictionaryMatch  float64 `mapstructure:"dictionary_match" yaml:"dictionary_match" json:"dictionary_match"`
	DomainValidation float64 `mapstructure:"domain_validation" yaml:"domain_validation" json:"domain_validation"`
}

// Config configures a Scorer.
type Config struct {
	Weights  Weights  `mapstructure:"weights" yaml:"weights" json:"weights"`
	Defaults Defaults `mapstructure:"defaults" yaml:"defaults" json:"defaults"`
	// CorrectionPenalty is taken off the correction confidence per change
	// the post-processor made, down to CorrectionFloor.
	CorrectionPenalty float64            `mapstructure:"correction_penalty" yaml:"correction_penalty" json:"correction_penalty"`
	CorrectionFloor   float64            `mapstructure:"correction_floor" yaml:"correction_floor" json:"correction_floor"`
	MixedScriptScore  float64            `mapstructure:"mixed_script_score" yaml:"mixed_script_score" json:"mixed_script_score"`
	Thresholds        scoring.Thresholds `mapstructure:"thresholds" yaml:"thresholds" json:"thresholds"`
}

// DefaultConfig returns weights of 0.40 OCR, 0.25 correction, 0.20
// dictionary, 0.10 domain validation and 0.05 coherence.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			OCR:               0.40,
			Correction:        0.25,
			DictionaryMatch:   0.20,
			DomainValidation:  0.10,
			LanguageCoherence: 0.05,
		},
		Defaults:          Defaults{DictionaryMatch: 0.85, DomainValidation: 0.90},
		CorrectionPenalty: 0.10,
		CorrectionFloor:   0.70,
		MixedScriptScore:  0.80,
		Thresholds:        scoring.Thresholds{High: 0.90, Good: 0.80, Moderate: 0.70, Low: 0.00},
	}
}

// Validate checks that every weight and score is in [0,1], the weights sum
// to 1 and the thresholds do not increase.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"weights.ocr_confidence":        c.Weights.OCR,
		"weights.correction_confidence": c.Weights.Correction,
		"weights.dictionary_match":      c.Weights.DictionaryMatch,
		"weights.domain_validation":     c.Weights.DomainValidation,
		"weights.language_coherence":    c.Weights.LanguageCoherence,
		"defaults.dictionary_match":     c.Defaults.DictionaryMatch,
		"defaults.domain_validation":    c.Defaults.DomainValidation,
		"correction_penalty":            c.CorrectionPenalty,
		"correction_floor":              c.CorrectionFloor,
		"mixed_script_score":            c.MixedScriptScore,
	} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("invalid lingua.%s: %v (must be between 0.0 and 1.0)", name, v)
		}
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("lingua weights must sum to 1.0, got %.4f", sum)
	}
	t := c.Thresholds
	if t.High < t.Good || t.Good < t.Moderate || t.Moderate < t.Low {
		return fmt.Errorf("lingua thresholds must be non-increasing: %+v", t)
	}
	return nil
}

// Input is what the pipeline knows about a region after post-processing.
// HasDictionary and FieldType decide whether the dictionary and pattern
// scores count or the configured defaults are used.
type Input struct {
	Text              string
	OCRConfidence     float64
	Corrections       int
	DictionaryMatch   float64
	HasDictionary     bool
	PatternValidation float64
	FieldType         string
}

// Components are the five values behind a lingua confidence.
type Components struct {
	OCR               float64 `json:"ocr_confidence"`
	Correction        float64 `json:"correction_confidence"`
	DictionaryMatch   float64 `json:"dictionary_match"`
	DomainValidation  float64 `json:"domain_validation"`
	LanguageCoherence float64 `json:"language_coherence"`
}

// Score is a computed lingua confidence.
type Score struct {
	Confidence   float64        `json:"confidence"`
	Components   Components     `json:"components"`
	Script       string         `json:"script"`
	CodeMixed    bool           `json:"is_code_mixed"`
	ReviewAction scoring.Action `json:"review_action"`
	NeedsReview  bool           `json:"needs_review"`
}

// Scorer is safe for concurrent use.
type Scorer struct {
	cfg Config
}

// New creates a Scorer. A config with no weights gets the defaults.
func New(cfg Config) *Scorer {
	if cfg.Weights.Sum() == 0 {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg}
}

// Config returns the scorer configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Score weighs the components of in. The result is clamped to [0,1].
func (s *Scorer) Score(in Input) Score {
	scripts := DetectScripts(in.Text)
	c := Components{
		OCR:               clamp(in.OCRConfidence),
		Correction:        s.correctionConfidence(in.Corrections),
		DictionaryMatch:   s.cfg.Defaults.DictionaryMatch,
		DomainValidation:  s.cfg.Defaults.DomainValidation,
		LanguageCoherence: 1.0,
	}
	if in.HasDictionary {
		c.DictionaryMatch = clamp(in.DictionaryMatch)
	}
	if in.FieldType != "" {
		c.DomainValidation = clamp(in.PatternValidation)
	}
	if scripts.Mixed() {
		c.LanguageCoherence = s.cfg.MixedScriptScore
	}

	w := s.cfg.Weights
	conf := clamp(c.OCR*w.OCR +
		c.Correction*w.Correction +
		c.DictionaryMatch*w.DictionaryMatch +
		c.DomainValidation*w.DomainValidation +
		c.LanguageCoherence*w.LanguageCoherence)

	action := s.ReviewAction(conf)
	return Score{
		Confidence:   conf,
		Components:   c,
		Script:       scripts.Primary(),
		CodeMixed:    scripts.Mixed(),
		ReviewAction: action,
		NeedsReview:  action != scoring.ActionAutoAccept,
	}
}

// ReviewAction maps a lingua confidence onto the region review actions.
func (s *Scorer) ReviewAction(conf float64) scoring.Action {
	t := s.cfg.Thresholds
	switch {
	case conf >= t.High:
		return scoring.ActionAutoAccept
	case conf >= t.Good:
		return scoring.ActionLightReview
	case conf >= t.Moderate:
		return scoring.ActionFullReview
	default:
		return scoring.ActionManualCorrection
	}
}

func (s *Scorer) correctionConfidence(n int) float64 {
	if n <= 0 {
		return 1.0
	}
	return max(s.cfg.CorrectionFloor, 1.0-float64(n)*s.cfg.CorrectionPenalty)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
