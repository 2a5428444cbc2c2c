// Package decision turns component confidences into a routing decision:
// ensemble aggregation, per-domain temperature scaling and selective
// classification over an immutable calibration profile.
package decision

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/trustroute/internal/calibration"
	"github.com/MeKo-Tech/trustroute/internal/ensemble"
	"github.com/MeKo-Tech/trustroute/internal/selective"
	"github.com/MeKo-Tech/trustroute/internal/uncertainty"
)

// ValidationError reports a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Input carries the component confidences of one document.
type Input struct {
	DocumentID  string  `json:"document_id,omitempty"`
	OCR         float64 `json:"ocr_confidence"`
	Lingua      float64 `json:"lingua_confidence"`
	Comply      float64 `json:"comply_confidence"`
	Domain      string  `json:"domain"`
	IsAnomalous bool    `json:"is_anomalous"`
	IsOOD       bool    `json:"is_ood"`
}

// Metadata describes how a decision was made.
type Metadata struct {
	ProcessingTimeMs float64              `json:"processing_time_ms"`
	IsAnomalous      bool                 `json:"is_anomalous"`
	IsOOD            bool                 `json:"is_ood"`
	ThresholdsUsed   selective.Thresholds `json:"thresholds_used"`
}

// Decision is the routing outcome plus the numbers behind it.
type Decision struct {
	DocumentID           string                    `json:"document_id,omitempty"`
	FinalConfidence      float64                   `json:"final_confidence"`
	AggregatedConfidence float64                   `json:"aggregated_confidence"`
	ReviewAction         selective.Action          `json:"review_action"`
	Priority             selective.Priority        `json:"priority"`
	NeedsReview          bool                      `json:"needs_review"`
	ReviewPercentage     float64                   `json:"review_percentage"`
	ComponentBreakdown   map[string]float64        `json:"component_breakdown"`
	ComponentWeights     map[string]float64        `json:"component_weights"`
	Variance             float64                   `json:"variance"`
	Disagreement         float64                   `json:"disagreement"`
	TemperatureApplied   float64                   `json:"temperature_applied"`
	RoutingReason        string                    `json:"routing_reason"`
	PenaltiesApplied     []string                  `json:"penalties_applied"`
	Domain               string                    `json:"domain"`
	Uncertainty          uncertainty.Decomposition `json:"uncertainty"`
	Metadata             Metadata                  `json:"metadata"`
}

// CalibrationResult is the outcome of fitting a domain temperature.
type CalibrationResult struct {
	Domain                string                 `json:"domain"`
	OptimalTemperature    float64                `json:"optimal_temperature"`
	CalibrationEvaluation calibration.Evaluation `json:"calibration_evaluation"`
	Metrics               calibration.Report     `json:"metrics"`
	ReliabilityBins       []calibration.Bin      `json:"reliability_bins"`
}

// state bundles a profile with the components built from it.
type state struct {
	profile    Profile
	aggregator *ensemble.Aggregator
	classifier *selective.Classifier
	scaler     *calibration.Scaler
}

// Engine is safe for concurrent use. Recalibration swaps in a new state
// atomically; in-flight calls keep the state they started with.
type Engine struct {
	current atomic.Pointer[state]
	logger  *slog.Logger
}

// New validates the profile and builds the engine. A nil logger uses
// slog.Default().
func New(p Profile, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration profile: %w", err)
	}
	e := &Engine{logger: logger}
	e.current.Store(e.build(p))
	return e, nil
}

func (e *Engine) build(p Profile) *state {
	return &state{
		profile:    p,
		aggregator: ensemble.New(p.Ensemble, e.logger),
		classifier: selective.New(p.Selective, e.logger),
		scaler:     calibration.NewScaler(p.Calibration, e.logger),
	}
}

// Profile returns the live profile.
func (e *Engine) Profile() Profile { return e.current.Load().profile }

// SetTemperature swaps in a profile whose domain temperature is t.
func (e *Engine) SetTemperature(domain string, t float64) error {
	if domain == "" {
		domain = GlobalDomain
	}
	if t <= 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return &ValidationError{Field: "temperature", Message: fmt.Sprintf("must be positive, got %v", t)}
	}
	for {
		old := e.current.Load()
		next := e.build(old.profile.WithTemperature(domain, t))
		if e.current.CompareAndSwap(old, next) {
			e.logger.Info("calibration profile updated", "domain", domain, "temperature", t)
			return nil
		}
	}
}

// ScoreAndRoute aggregates the component confidences, applies the domain
// temperature and routes the result.
func (e *Engine) ScoreAndRoute(in Input) (Decision, error) {
	start := time.Now()
	s := e.current.Load()

	for _, f := range []struct {
		name string
		v    float64
	}{{"ocr_confidence", in.OCR}, {"lingua_confidence", in.Lingua}, {"comply_confidence", in.Comply}} {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return Decision{}, &ValidationError{Field: f.name, Message: fmt.Sprintf("%v outside [0,1]", f.v)}
		}
	}
	domain := in.Domain
	if domain == "" {
		domain = DefaultDomain
	}

	agg, err := s.aggregator.AggregateComponents(map[string]float64{
		ensemble.ComponentOCR:    in.OCR,
		ensemble.ComponentLingua: in.Lingua,
		ensemble.ComponentComply: in.Comply,
	})
	if err != nil {
		return Decision{}, &ValidationError{Field: "components", Message: err.Error()}
	}

	temp := s.profile.Temperature(domain)
	calibrated := calibration.Apply(agg.Aggregated, temp)

	unc := s.profile.Uncertainty.Quantify([]float64{in.OCR, in.Lingua, in.Comply})
	isOOD := in.IsOOD
	if s.profile.AutoOOD && !isOOD && s.profile.Uncertainty.DetectOOD(unc.Epistemic) {
		e.logger.Debug("epistemic uncertainty above threshold, flagging OOD",
			"document_id", in.DocumentID, "epistemic", unc.Epistemic)
		isOOD = true
	}

	route, err := s.classifier.Classify(calibrated, domain, in.IsAnomalous, isOOD)
	if err != nil {
		return Decision{}, &ValidationError{Field: "confidence", Message: err.Error()}
	}

	d := Decision{
		DocumentID:           in.DocumentID,
		FinalConfidence:      calibrated,
		AggregatedConfidence: agg.Aggregated,
		ReviewAction:         route.Action,
		Priority:             route.Priority,
		NeedsReview:          route.NeedsReview,
		ReviewPercentage:     route.ReviewPercentage,
		ComponentBreakdown:   agg.Breakdown,
		ComponentWeights:     agg.Weights,
		Variance:             agg.Variance,
		Disagreement:         agg.Disagreement,
		TemperatureApplied:   temp,
		RoutingReason:        route.Reason,
		PenaltiesApplied:     route.PenaltiesApplied,
		Domain:               domain,
		Uncertainty:          unc,
		Metadata: Metadata{
			ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
			IsAnomalous:      in.IsAnomalous,
			IsOOD:            isOOD,
			ThresholdsUsed:   route.ThresholdsUsed,
		},
	}
	e.logger.Debug("document routed",
		"document_id", in.DocumentID,
		"domain", domain,
		"action", string(d.ReviewAction),
		"final_confidence", d.FinalConfidence)
	return d, nil
}

// Calibrate fits the ECE-optimal temperature of a domain on labeled data
// and evaluates it. The live profile is not changed; call SetTemperature
// to adopt the result.
func (e *Engine) Calibrate(confidences []float64, correct []bool, domain string) (CalibrationResult, error) {
	if domain == "" {
		domain = GlobalDomain
	}
	if len(confidences) != len(correct) {
		return CalibrationResult{}, &ValidationError{
			Field:   "correctness",
			Message: fmt.Sprintf("got %d labels for %d confidences", len(correct), len(confidences)),
		}
	}
	for i, c := range confidences {
		if math.IsNaN(c) || c < 0 || c > 1 {
			return CalibrationResult{}, &ValidationError{Field: fmt.Sprintf("confidences[%d]", i), Message: fmt.Sprintf("%v outside [0,1]", c)}
		}
	}

	s := e.current.Load()
	t, err := s.scaler.Calibrate(confidences, correct, calibration.MethodECE)
	if err != nil {
		return CalibrationResult{}, err
	}
	eval := s.scaler.Evaluate(confidences, correct, t)
	numBins := s.profile.Calibration.NumBins

	e.logger.Info("calibration fitted",
		"domain", domain,
		"temperature", t,
		"ece_before", eval.ECEBefore,
		"ece_after", eval.ECEAfter,
		"samples", len(confidences))

	return CalibrationResult{
		Domain:                domain,
		OptimalTemperature:    t,
		CalibrationEvaluation: eval,
		Metrics:               calibration.ComputeAll(confidences, correct, numBins),
		ReliabilityBins:       calibration.Bins(confidences, correct, numBins),
	}, nil
}
