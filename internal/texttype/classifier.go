// Package texttype guesses whether a region holds printed or handwritten
// text from three cheap image statistics.
package texttype

import (
	"image"
	"log/slog"

	"gonum.org/v1/gonum/stat"

	"github.com/MeKo-Tech/trustroute/internal/utils"
)

// Type is the classified kind of text.
type Type string

const (
	Printed     Type = "printed"
	Handwritten Type = "handwritten"
	Mixed       Type = "mixed"
)

const (
	mixedMargin     = 0.2
	mixedConfidence = 0.6
	edgeVote        = 0.4
	strokeVote      = 0.3
	verticalVote    = 0.3
	peakFraction    = 0.3
	cannyLow        = 50
	cannyHigh       = 150
)

// Config holds the decision thresholds of each feature.
type Config struct {
	EdgeDensityThreshold      float64 `mapstructure:"edge_density_threshold" yaml:"edge_density_threshold" json:"edge_density_threshold"`
	StrokeVarianceThreshold   float64 `mapstructure:"stroke_variance_threshold" yaml:"stroke_variance_threshold" json:"stroke_variance_threshold"`
	VerticalVarianceThreshold float64 `mapstructure:"vertical_variance_threshold" yaml:"vertical_variance_threshold" json:"vertical_variance_threshold"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		EdgeDensityThreshold:      0.12,
		StrokeVarianceThreshold:   4.0,
		VerticalVarianceThreshold: 6.0,
	}
}

// Features are the raw statistics the decision is based on.
type Features struct {
	EdgeDensity      float64 `json:"edge_density"`
	StrokeVariance   float64 `json:"stroke_variance"`
	VerticalVariance float64 `json:"vertical_variance"`
}

// Result is a classification with its confidence.
type Result struct {
	Type       Type     `json:"text_type"`
	Confidence float64  `json:"confidence"`
	Features   Features `json:"features"`
}

// Classifier is safe for concurrent use.
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

// Classify never fails: images that cannot be analyzed are reported as
// printed with confidence 0.5.
func (c *Classifier) Classify(img image.Image) Result {
	f, err := ExtractFeatures(img)
	if err != nil {
		c.logger.Warn("text type classification failed", "error", err)
		return Result{Type: Printed, Confidence: 0.5}
	}
	r := c.Decide(f)
	c.logger.Debug("text type classified",
		"type", string(r.Type),
		"confidence", r.Confidence,
		"edge_density", f.EdgeDensity,
		"stroke_variance", f.StrokeVariance,
		"vertical_variance", f.VerticalVariance)
	return r
}

// Decide applies the feature votes. Printed wins ties.
func (c *Classifier) Decide(f Features) Result {
	var printed, handwritten float64

	if f.EdgeDensity > c.cfg.EdgeDensityThreshold {
		printed += edgeVote
	} else {
		handwritten += edgeVote
	}
	if f.StrokeVariance > c.cfg.StrokeVarianceThreshold {
		handwritten += strokeVote
	} else {
		printed += strokeVote
	}
	if f.VerticalVariance > c.cfg.VerticalVarianceThreshold {
		handwritten += verticalVote
	} else {
		printed += verticalVote
	}

	top, second, typ := printed, handwritten, Printed
	if handwritten > printed {
		top, second, typ = handwritten, printed, Handwritten
	}
	if top-second < mixedMargin {
		return Result{Type: Mixed, Confidence: mixedConfidence, Features: f}
	}
	return Result{Type: typ, Confidence: top, Features: f}
}

// ExtractFeatures computes edge density, stroke width variance and the
// variance of gaps between text line rows.
func ExtractFeatures(img image.Image) (Features, error) {
	gray, err := utils.ToGray(img)
	if err != nil {
		return Features{}, err
	}
	w, h := gray.Width, gray.Height

	edges := utils.Canny(gray, cannyLow, cannyHigh)
	density := float64(utils.CountTrue(edges)) / float64(w*h)

	ink := utils.BinarizeInverse(gray, utils.OtsuThreshold(gray))

	return Features{
		EdgeDensity:      density,
		StrokeVariance:   strokeVariance(ink, w, h),
		VerticalVariance: verticalVariance(ink, w, h),
	}, nil
}

func strokeVariance(ink []bool, w, h int) float64 {
	dist, ok := utils.DistanceTransform(ink, w, h)
	if !ok {
		return 0
	}
	var widths []float64
	for _, d := range dist {
		if d > 0 {
			widths = append(widths, d)
		}
	}
	if len(widths) == 0 {
		return 0
	}
	_, variance := stat.PopMeanVariance(widths, nil)
	return variance
}

func verticalVariance(ink []bool, w, h int) float64 {
	proj := utils.RowProjection(ink, w, h)
	peak := 0
	for _, p := range proj {
		peak = max(peak, p)
	}
	limit := float64(peak) * peakFraction

	var rows []int
	for y, p := range proj {
		if float64(p) > limit {
			rows = append(rows, y)
		}
	}
	if len(rows) < 2 {
		return 0
	}
	gaps := make([]float64, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		gaps[i-1] = float64(rows[i] - rows[i-1])
	}
	_, variance := stat.PopMeanVariance(gaps, nil)
	return variance
}
