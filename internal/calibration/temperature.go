// Package calibration implements post-hoc temperature scaling and the
// metrics used to judge whether a set of confidences is calibrated.
package calibration

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// Method is the objective minimized when fitting a temperature.
type Method string

const (
	MethodECE Method = "ece"
	MethodNLL Method = "nll"
)

// ErrUnknownMethod is returned by Calibrate for an unsupported objective.
var ErrUnknownMethod = errors.New("unknown calibration method")

// Config controls the temperature search.
type Config struct {
	SearchMin float64
	SearchMax float64
	NumBins   int
	XAtol     float64
	MaxIter   int
}

// DefaultConfig searches [0.5, 5.0] with 10 ECE bins.
func DefaultConfig() Config {
	return Config{
		SearchMin: 0.5,
		SearchMax: 5.0,
		NumBins:   DefaultNumBins,
		XAtol:     1e-5,
		MaxIter:   500,
	}
}

// Evaluation compares calibration before and after applying a temperature.
type Evaluation struct {
	Temperature    float64 `json:"temperature"`
	ECEBefore      float64 `json:"ece_before"`
	ECEAfter       float64 `json:"ece_after"`
	ECEImprovement float64 `json:"ece_improvement"`
	NLLBefore      float64 `json:"nll_before"`
	NLLAfter       float64 `json:"nll_after"`
	NLLImprovement float64 `json:"nll_improvement"`
}

// Apply rescales the logit of p by 1/temperature. A temperature of 1 (or an
// invalid non-positive one) leaves p unchanged.
func Apply(p, temperature float64) float64 {
	if temperature == 1 || temperature <= 0 || math.IsNaN(temperature) {
		return p
	}
	p = clampProb(p)
	logit := math.Log(p / (1 - p))
	return 1 / (1 + math.Exp(-logit/temperature))
}

// ApplyAll applies the temperature to every confidence.
func ApplyAll(confidences []float64, temperature float64) []float64 {
	out := make([]float64, len(confidences))
	for i, c := range confidences {
		out[i] = Apply(c, temperature)
	}
	return out
}

// Scaler fits temperatures against labeled validation data.
type Scaler struct {
	cfg    Config
	logger *slog.Logger
}

// NewScaler creates a Scaler; zero config fields take their defaults.
func NewScaler(cfg Config, logger *slog.Logger) *Scaler {
	def := DefaultConfig()
	if cfg.SearchMin <= 0 {
		cfg.SearchMin = def.SearchMin
	}
	if cfg.SearchMax <= cfg.SearchMin {
		cfg.SearchMax = math.Max(def.SearchMax, cfg.SearchMin*2)
	}
	if cfg.NumBins <= 0 {
		cfg.NumBins = def.NumBins
	}
	if cfg.XAtol <= 0 {
		cfg.XAtol = def.XAtol
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = def.MaxIter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scaler{cfg: cfg, logger: logger}
}

// Calibrate returns the temperature minimizing the chosen objective over
// the search range. Empty or degenerate samples yield 1.0.
func (s *Scaler) Calibrate(confidences []float64, correct []bool, method Method) (float64, error) {
	var objective func(float64) float64
	switch method {
	case MethodECE:
		objective = func(t float64) float64 {
			return ECE(ApplyAll(confidences, t), correct, s.cfg.NumBins)
		}
	case MethodNLL:
		objective = func(t float64) float64 {
			return NLL(ApplyAll(confidences, t), correct)
		}
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	if len(confidences) != len(correct) {
		return 0, fmt.Errorf("got %d confidences and %d labels", len(confidences), len(correct))
	}
	if degenerate(confidences) {
		s.logger.Warn("calibration sample empty or degenerate, keeping identity temperature",
			"samples", len(confidences))
		return 1.0, nil
	}

	t, loss := minimizeBounded(objective, s.cfg.SearchMin, s.cfg.SearchMax, s.cfg.XAtol, s.cfg.MaxIter)
	s.logger.Debug("temperature fitted", "method", string(method), "temperature", t, "loss", loss)
	return t, nil
}

// Evaluate reports ECE and NLL at T=1 and at the given temperature.
func (s *Scaler) Evaluate(confidences []float64, correct []bool, temperature float64) Evaluation {
	scaled := ApplyAll(confidences, temperature)

	eceBefore := ECE(confidences, correct, s.cfg.NumBins)
	eceAfter := ECE(scaled, correct, s.cfg.NumBins)
	nllBefore := NLL(confidences, correct)
	nllAfter := NLL(scaled, correct)

	return Evaluation{
		Temperature:    temperature,
		ECEBefore:      eceBefore,
		ECEAfter:       eceAfter,
		ECEImprovement: eceBefore - eceAfter,
		NLLBefore:      nllBefore,
		NLLAfter:       nllAfter,
		NLLImprovement: nllBefore - nllAfter,
	}
}

func degenerate(confidences []float64) bool {
	if len(confidences) == 0 {
		return true
	}
	for _, c := range confidences[1:] {
		if c != confidences[0] {
			return false
		}
	}
	return true
}
