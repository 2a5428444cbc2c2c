// Package selective maps a calibrated confidence to a review tier. The
// decision is a pure function of the confidence, the domain and the
// anomaly/OOD flags; nothing is persisted between calls.
package selective

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// Action is the review tier assigned to a document.
type Action string

const (
	AutoAccept       Action = "AUTO_ACCEPT"
	LightReview      Action = "LIGHT_REVIEW"
	FullReview       Action = "FULL_REVIEW"
	ManualCorrection Action = "MANUAL_CORRECTION"
)

// Priority orders review work.
type Priority string

const (
	PriorityNone     Priority = "NONE"
	PriorityLow      Priority = "LOW"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Threshold keys accepted in domain override maps.
const (
	KeyAutoAccept       = "auto_accept"
	KeyLightReview      = "light_review"
	KeyFullReview       = "full_review"
	KeyManualCorrection = "manual_correction"
)

// Penalty tags.
const (
	PenaltyAnomaly = "anomaly_detected"
	PenaltyOOD     = "ood_detected"
)

// DefaultOODPenalty is subtracted from the confidence of OOD input.
const DefaultOODPenalty = 0.15

// Thresholds are the lower bounds of each tier, highest first.
type Thresholds struct {
	AutoAccept       float64 `json:"auto_accept" yaml:"auto_accept" mapstructure:"auto_accept"`
	LightReview      float64 `json:"light_review" yaml:"light_review" mapstructure:"light_review"`
	FullReview       float64 `json:"full_review" yaml:"full_review" mapstructure:"full_review"`
	ManualCorrection float64 `json:"manual_correction" yaml:"manual_correction" mapstructure:"manual_correction"`
}

// DefaultThresholds returns the global thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoAccept: 0.90, LightReview: 0.80, FullReview: 0.70, ManualCorrection: 0.00}
}

// DefaultDomainOverrides returns the built-in per-domain overrides.
func DefaultDomainOverrides() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"medical":   {KeyAutoAccept: 0.95, KeyLightReview: 0.85},
		"logistics": {KeyAutoAccept: 0.85, KeyLightReview: 0.75},
	}
}

// Merge overlays the keys present in override onto t.
func (t Thresholds) Merge(override map[string]float64) Thresholds {
	for k, v := range override {
		switch k {
		case KeyAutoAccept:
			t.AutoAccept = v
		case KeyLightReview:
			t.LightReview = v
		case KeyFullReview:
			t.FullReview = v
		case KeyManualCorrection:
			t.ManualCorrection = v
		}
	}
	return t
}

// Validate checks that thresholds lie in [0,1] and are ordered.
func (t Thresholds) Validate() error {
	for _, v := range []float64{t.AutoAccept, t.LightReview, t.FullReview, t.ManualCorrection} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("threshold %v outside [0,1]", v)
		}
	}
	if t.AutoAccept < t.LightReview || t.LightReview < t.FullReview || t.FullReview < t.ManualCorrection {
		return fmt.Errorf("thresholds must be non-increasing: %+v", t)
	}
	return nil
}

// Config configures a Classifier.
type Config struct {
	Thresholds      Thresholds
	DomainOverrides map[string]map[string]float64
	OODPenalty      float64
}

// DefaultConfig returns the built-in thresholds and overrides.
func DefaultConfig() Config {
	return Config{
		Thresholds:      DefaultThresholds(),
		DomainOverrides: DefaultDomainOverrides(),
		OODPenalty:      DefaultOODPenalty,
	}
}

// Decision is the routing outcome for one document.
type Decision struct {
	Action             Action     `json:"review_action"`
	Priority           Priority   `json:"priority"`
	NeedsReview        bool       `json:"needs_review"`
	ReviewPercentage   float64    `json:"review_percentage"`
	Reason             string     `json:"reason"`
	Confidence         float64    `json:"confidence"`
	AdjustedConfidence float64    `json:"adjusted_confidence"`
	PenaltiesApplied   []string   `json:"penalties_applied"`
	ThresholdsUsed     Thresholds `json:"thresholds_used"`
	Domain             string     `json:"domain"`
}

// ValidationError reports a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Classifier routes confidences into review tiers.
type Classifier struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Classifier. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{cfg: cfg, logger: logger}
}

// Config returns the classifier configuration.
func (c *Classifier) Config() Config { return c.cfg }

// ThresholdsFor resolves the thresholds of a domain. Domains without an
// override use the global thresholds.
func (c *Classifier) ThresholdsFor(domain string) Thresholds {
	override, ok := c.cfg.DomainOverrides[domain]
	if !ok {
		if domain != "" && domain != "general" {
			c.logger.Debug("no threshold override for domain, using defaults", "domain", domain)
		}
		return c.cfg.Thresholds
	}
	return c.cfg.Thresholds.Merge(override)
}

// Domains lists the domains that carry overrides, sorted.
func (c *Classifier) Domains() []string {
	out := make([]string, 0, len(c.cfg.DomainOverrides))
	for d := range c.cfg.DomainOverrides {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Classify routes a calibrated confidence.
func (c *Classifier) Classify(confidence float64, domain string, isAnomalous, isOOD bool) (Decision, error) {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return Decision{}, &ValidationError{Field: "confidence", Message: fmt.Sprintf("%v outside [0,1]", confidence)}
	}
	thresholds := c.ThresholdsFor(domain)

	if isAnomalous {
		return Decision{
			Action:             FullReview,
			Priority:           PriorityHigh,
			NeedsReview:        true,
			ReviewPercentage:   100,
			Reason:             "Document flagged as anomalous",
			Confidence:         confidence,
			AdjustedConfidence: confidence,
			PenaltiesApplied:   []string{PenaltyAnomaly},
			ThresholdsUsed:     thresholds,
			Domain:             domain,
		}, nil
	}

	adjusted := confidence
	penalties := []string{}
	if isOOD {
		adjusted -= c.cfg.OODPenalty
		penalties = append(penalties, PenaltyOOD)
	}
	adjusted = math.Max(0, math.Min(1, adjusted))

	d := Decision{
		Confidence:         confidence,
		AdjustedConfidence: adjusted,
		PenaltiesApplied:   penalties,
		ThresholdsUsed:     thresholds,
		Domain:             domain,
		NeedsReview:        true,
	}

	switch {
	case adjusted >= thresholds.AutoAccept:
		d.Action, d.Priority, d.NeedsReview, d.ReviewPercentage = AutoAccept, PriorityNone, false, 0
		d.Reason = fmt.Sprintf("High confidence (%.3f >= %.2f)", adjusted, thresholds.AutoAccept)
	case adjusted >= thresholds.LightReview:
		d.Action, d.Priority, d.ReviewPercentage = LightReview, PriorityLow, 10
		d.Reason = fmt.Sprintf("Good confidence (%.3f >= %.2f)", adjusted, thresholds.LightReview)
	case adjusted >= thresholds.FullReview:
		d.Action, d.Priority, d.ReviewPercentage = FullReview, PriorityHigh, 100
		d.Reason = fmt.Sprintf("Moderate confidence (%.3f >= %.2f)", adjusted, thresholds.FullReview)
	default:
		d.Action, d.Priority, d.ReviewPercentage = ManualCorrection, PriorityCritical, 100
		d.Reason = fmt.Sprintf("Low confidence (%.3f < %.2f)", adjusted, thresholds.FullReview)
	}
	return d, nil
}
