package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/MeKo-Tech/trustroute/internal/texttype"
)

// Config controls model selection and fallback.
type Config struct {
	SwitchThreshold    float64   `mapstructure:"switch_threshold" yaml:"switch_threshold" json:"switch_threshold"`
	DetectionThreshold float64   `mapstructure:"detection_threshold" yaml:"detection_threshold" json:"detection_threshold"`
	FallbackEnabled    bool      `mapstructure:"fallback_enabled" yaml:"fallback_enabled" json:"fallback_enabled"`
	ModelPriority      ModelType `mapstructure:"model_priority" yaml:"model_priority" json:"model_priority"`
	LogSwitches        bool      `mapstructure:"log_switches" yaml:"log_switches" json:"log_switches"`
}

// DefaultConfig returns the default multi-track settings.
func DefaultConfig() Config {
	return Config{
		SwitchThreshold:    0.70,
		DetectionThreshold: 0.75,
		FallbackEnabled:    true,
		ModelPriority:      ModelPrinted,
		LogSwitches:        true,
	}
}

// Result is the outcome of multi-track recognition for one region.
// RawText is the primary model's text. FallbackConfidence is set whenever
// the fallback model ran, whether or not it won.
type Result struct {
	Text               string        `json:"text"`
	RawText            string        `json:"raw_text"`
	Confidence         float64       `json:"confidence"`
	TextType           texttype.Type `json:"text_type"`
	TextTypeConfidence float64       `json:"text_type_confidence"`
	ModelUsed          ModelType     `json:"model_used"`
	PrimaryModel       ModelType     `json:"primary_model"`
	Switched           bool          `json:"switched"`
	PrimaryConfidence  float64       `json:"primary_confidence"`
	FallbackConfidence *float64      `json:"fallback_confidence"`
	Tokens             []Token       `json:"tokens,omitempty"`
	Degraded           []string      `json:"degraded,omitempty"`
	ProcessingTimeMs   float64       `json:"processing_time_ms"`
}

// MultiTrack picks the primary model from the text type and falls back to
// the alternate model when the primary is not confident enough.
type MultiTrack struct {
	engine     Engine
	classifier *texttype.Classifier
	cfg        Config
	logger     *slog.Logger
}

// NewMultiTrack creates a MultiTrack. An invalid ModelPriority falls back
// to printed. A nil logger uses slog.Default().
func NewMultiTrack(engine Engine, classifier *texttype.Classifier, cfg Config, logger *slog.Logger) *MultiTrack {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = texttype.New(texttype.DefaultConfig(), logger)
	}
	if !cfg.ModelPriority.Valid() {
		cfg.ModelPriority = ModelPrinted
	}
	return &MultiTrack{engine: engine, classifier: classifier, cfg: cfg, logger: logger}
}

// SelectPrimary maps a classification to the primary model. Mixed or
// low-confidence classifications use the priority model.
func (m *MultiTrack) SelectPrimary(t texttype.Type, confidence float64) ModelType {
	if confidence >= m.cfg.DetectionThreshold {
		switch t {
		case texttype.Printed:
			return ModelPrinted
		case texttype.Handwritten:
			return ModelHandwritten
		}
	}
	return m.cfg.ModelPriority
}

// Process classifies the image and recognizes it. The only error is
// context cancellation.
func (m *MultiTrack) Process(ctx context.Context, img image.Image) (Result, error) {
	return m.ProcessClassified(ctx, img, m.classifier.Classify(img))
}

// ProcessClassified recognizes an image whose text type is already known.
func (m *MultiTrack) ProcessClassified(ctx context.Context, img image.Image, cls texttype.Result) (Result, error) {
	start := time.Now()

	primary := m.SelectPrimary(cls.Type, cls.Confidence)
	res := Result{
		TextType:           cls.Type,
		TextTypeConfidence: cls.Confidence,
		PrimaryModel:       primary,
		ModelUsed:          primary,
	}

	out := m.recognize(ctx, img, primary, &res)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	res.Text, res.RawText = out.Text, out.Text
	res.Confidence, res.PrimaryConfidence = out.Confidence, out.Confidence
	res.Tokens = out.Tokens

	if m.cfg.FallbackEnabled && out.Confidence < m.cfg.SwitchThreshold {
		alternate := primary.Alternate()
		fb := m.recognize(ctx, img, alternate, &res)
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		conf := fb.Confidence
		res.FallbackConfidence = &conf

		if fb.Confidence > out.Confidence {
			res.Text = fb.Text
			res.Confidence = fb.Confidence
			res.Tokens = fb.Tokens
			res.ModelUsed = alternate
			res.Switched = true
			if m.cfg.LogSwitches {
				m.logger.Info("switched OCR model",
					"from", string(primary),
					"to", string(alternate),
					"primary_confidence", out.Confidence,
					"fallback_confidence", fb.Confidence)
			}
		}
	}

	res.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return res, nil
}

// recognize calls the engine and normalizes its output. Degraded outputs
// and out-of-range confidences are recorded on res.
func (m *MultiTrack) recognize(ctx context.Context, img image.Image, model ModelType, res *Result) Output {
	if m.engine == nil {
		return m.degrade(model, "no engine", res)
	}
	out := m.engine.Recognize(ctx, img, model)
	if out.IsDegraded() {
		return m.degrade(model, out.Reason, res)
	}
	if math.IsNaN(out.Confidence) {
		return m.degrade(model, "confidence is NaN", res)
	}
	out.Confidence = math.Max(0, math.Min(1, out.Confidence))
	return out
}

func (m *MultiTrack) degrade(model ModelType, reason string, res *Result) Output {
	m.logger.Warn("OCR engine degraded", "model", string(model), "reason", reason)
	res.Degraded = append(res.Degraded, fmt.Sprintf("%s: %s", model, reason))
	return Degraded(reason)
}
