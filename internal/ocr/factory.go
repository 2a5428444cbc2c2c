package ocr

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	EngineHTTP      = "http"
	EngineTesseract = "tesseract"
	EngineNone      = "none"
)

// EngineConfig selects and configures the OCR backend.
type EngineConfig struct {
	Engine    string        `mapstructure:"engine" yaml:"engine" json:"engine"`
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Languages []string      `mapstructure:"languages" yaml:"languages" json:"languages"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	Burst     int           `mapstructure:"burst" yaml:"burst" json:"burst"`
}

// NewEngine builds the configured engine wrapped in a rate limiter. The
// "none" engine degrades every call.
func NewEngine(cfg EngineConfig, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		engine Engine
		err    error
	)
	switch strings.ToLower(cfg.Engine) {
	case EngineHTTP:
		engine, err = NewHTTPEngine(cfg.Endpoint, cfg.Timeout)
	case EngineTesseract:
		engine, err = NewTesseractEngine(cfg.Languages)
	case EngineNone, "":
		engine = Unavailable{Reason: "no OCR engine configured"}
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.Engine)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("OCR engine ready",
		"engine", cfg.Engine,
		"endpoint", cfg.Endpoint,
		"rate_limit", cfg.RateLimit)
	return NewRateLimitedEngine(engine, cfg.RateLimit, cfg.Burst), nil
}
