// Package scoring computes the per-region trust score from OCR, language
// model, dictionary and pattern signals.
package scoring

import (
	"fmt"
	"math"
)

// Action is the region-level review action.
type Action string

const (
	ActionAutoAccept       Action = "auto_accept"
	ActionLightReview      Action = "light_review"
	ActionFullReview       Action = "full_review"
	ActionManualCorrection Action = "manual_correction"
)

// Penalty tags recorded on a score.
const (
	PenaltyModelSwitch     = "model_switch"
	PenaltyPatternMismatch = "pattern_mismatch"
)

// Weights of the four trust score components.
type Weights struct {
	OCR               float64 `json:"ocr_confidence" yaml:"ocr_confidence" mapstructure:"ocr_confidence"`
	LanguageModel     float64 `json:"language_model_confidence" yaml:"language_model_confidence" mapstructure:"language_model_confidence"`
	DictionaryMatch   float64 `json:"dictionary_match" yaml:"dictionary_match" mapstructure:"dictionary_match"`
	PatternValidation float64 `json:"pattern_validation" yaml:"pattern_validation" mapstructure:"pattern_validation"`
}

// Penalties subtracted from the weighted score.
type Penalties struct {
	ModelSwitch       float64 `json:"model_switch_penalty" yaml:"model_switch_penalty" mapstructure:"model_switch_penalty"`
	UnknownWord       float64 `json:"unknown_word_penalty" yaml:"unknown_word_penalty" mapstructure:"unknown_word_penalty"`
	UnknownWordCap    float64 `json:"unknown_word_cap" yaml:"unknown_word_cap" mapstructure:"unknown_word_cap"`
	PatternMismatch   float64 `json:"pattern_mismatch_penalty" yaml:"pattern_mismatch_penalty" mapstructure:"pattern_mismatch_penalty"`
	MismatchThreshold float64 `json:"pattern_mismatch_threshold" yaml:"pattern_mismatch_threshold" mapstructure:"pattern_mismatch_threshold"`
}

// Thresholds are the lower bounds of the region review actions.
type Thresholds struct {
	High     float64 `json:"high_confidence" yaml:"high_confidence" mapstructure:"high_confidence"`
	Good     float64 `json:"good_confidence" yaml:"good_confidence" mapstructure:"good_confidence"`
	Moderate float64 `json:"moderate_confidence" yaml:"moderate_confidence" mapstructure:"moderate_confidence"`
	Low      float64 `json:"low_confidence" yaml:"low_confidence" mapstructure:"low_confidence"`
}

// Config configures a Scorer.
type Config struct {
	Weights    Weights    `json:"weights" yaml:"weights" mapstructure:"weights"`
	Penalties  Penalties  `json:"penalties" yaml:"penalties" mapstructure:"penalties"`
	Thresholds Thresholds `json:"thresholds" yaml:"thresholds" mapstructure:"thresholds"`
}

// DefaultConfig returns the default weights, penalties and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{OCR: 0.50, LanguageModel: 0.20, DictionaryMatch: 0.15, PatternValidation: 0.15},
		Penalties: Penalties{
			ModelSwitch:       0.10,
			UnknownWord:       0.05,
			UnknownWordCap:    0.20,
			PatternMismatch:   0.10,
			MismatchThreshold: 0.5,
		},
		Thresholds: Thresholds{High: 0.85, Good: 0.75, Moderate: 0.60, Low: 0.00},
	}
}

// Components are the inputs of one trust score computation.
type Components struct {
	OCR               float64 `json:"ocr_confidence"`
	LanguageModel     float64 `json:"lm_confidence"`
	DictionaryMatch   float64 `json:"dictionary_match"`
	PatternValidation float64 `json:"pattern_validation"`
}

// Signals carry the penalty triggers of a region.
type Signals struct {
	ModelSwitched    bool
	UnknownWordCount int
	PatternMatched   bool
}

// Score is a computed trust score.
type Score struct {
	TrustScore       float64    `json:"trust_score"`
	Components       Components `json:"components"`
	PenaltiesApplied []string   `json:"penalties_applied"`
	ReviewAction     Action     `json:"review_action"`
	NeedsReview      bool       `json:"needs_review"`
}

// ValidationError reports a component outside [0,1].
type ValidationError struct {
	Field string
	Value float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v (must be between 0.0 and 1.0)", e.Field, e.Value)
}

// Scorer is safe for concurrent use.
type Scorer struct {
	cfg Config
}

// New creates a Scorer.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Config returns the scorer configuration.
func (s *Scorer) Config() Config { return s.cfg }

// TrustScore computes the weighted score, subtracts penalties in a fixed
// order (model switch, unknown words, pattern mismatch) and clamps to [0,1].
func (s *Scorer) TrustScore(c Components, sig Signals) (Score, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"ocr_confidence", c.OCR},
		{"lm_confidence", c.LanguageModel},
		{"dictionary_match", c.DictionaryMatch},
		{"pattern_validation", c.PatternValidation},
	} {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return Score{}, &ValidationError{Field: f.name, Value: f.v}
		}
	}

	w := s.cfg.Weights
	p := s.cfg.Penalties
	score := c.OCR*w.OCR +
		c.LanguageModel*w.LanguageModel +
		c.DictionaryMatch*w.DictionaryMatch +
		c.PatternValidation*w.PatternValidation

	penalties := []string{}
	if sig.ModelSwitched {
		score -= p.ModelSwitch
		penalties = append(penalties, PenaltyModelSwitch)
	}
	if sig.UnknownWordCount > 0 {
		score -= math.Min(float64(sig.UnknownWordCount)*p.UnknownWord, p.UnknownWordCap)
		penalties = append(penalties, fmt.Sprintf("unknown_words_%d", sig.UnknownWordCount))
	}
	if !sig.PatternMatched {
		score -= p.PatternMismatch
		penalties = append(penalties, PenaltyPatternMismatch)
	}
	score = math.Max(0, math.Min(1, score))

	action := s.ReviewAction(score)
	return Score{
		TrustScore:       score,
		Components:       c,
		PenaltiesApplied: penalties,
		ReviewAction:     action,
		NeedsReview:      action != ActionAutoAccept,
	}, nil
}

// ReviewAction maps a trust score to a review action.
func (s *Scorer) ReviewAction(score float64) Action {
	t := s.cfg.Thresholds
	switch {
	case score >= t.High:
		return ActionAutoAccept
	case score >= t.Good:
		return ActionLightReview
	case score >= t.Moderate:
		return ActionFullReview
	default:
		return ActionManualCorrection
	}
}

// PatternMatched reports whether a pattern score counts as a match for the
// field type. Regions without a field type always match.
func (s *Scorer) PatternMatched(fieldType string, patternScore float64) bool {
	if fieldType == "" {
		return true
	}
	return patternScore >= s.cfg.Penalties.MismatchThreshold
}
