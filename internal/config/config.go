package config

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/MeKo-Tech/trustroute/internal/calibration"
	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/ensemble"
	"github.com/MeKo-Tech/trustroute/internal/lingua"
	"github.com/MeKo-Tech/trustroute/internal/ocr"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/postprocess"
	"github.com/MeKo-Tech/trustroute/internal/queue"
	"github.com/MeKo-Tech/trustroute/internal/review"
	"github.com/MeKo-Tech/trustroute/internal/scoring"
	"github.com/MeKo-Tech/trustroute/internal/selective"
	"github.com/MeKo-Tech/trustroute/internal/store"
	"github.com/MeKo-Tech/trustroute/internal/texttype"
	"github.com/MeKo-Tech/trustroute/internal/uncertainty"
)

// Config represents the complete configuration for trustroute.
// It covers every command (serve, score, calibrate, process, review, worker)
// and is loaded from configuration files, environment variables and flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Region processing
	OCR         OCRConfig          `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	PostProcess postprocess.Config `mapstructure:"postprocess" yaml:"postprocess" json:"postprocess"`
	Lingua      lingua.Config      `mapstructure:"lingua" yaml:"lingua" json:"lingua"`
	Scorer      scoring.Config     `mapstructure:"scorer" yaml:"scorer" json:"scorer"`

	// Document confidence and routing
	Ensemble                EnsembleConfig          `mapstructure:"ensemble" yaml:"ensemble" json:"ensemble"`
	Calibration             CalibrationConfig       `mapstructure:"calibration" yaml:"calibration" json:"calibration"`
	ConfidenceScoring       ConfidenceScoringConfig `mapstructure:"confidence_scoring" yaml:"confidence_scoring" json:"confidence_scoring"`
	SelectiveClassification SelectiveConfig         `mapstructure:"selective_classification" yaml:"selective_classification" json:"selective_classification"`
	Uncertainty             UncertaintyConfig       `mapstructure:"uncertainty" yaml:"uncertainty" json:"uncertainty"`

	Review  review.Config   `mapstructure:"review" yaml:"review" json:"review"`
	Worker  pipeline.Config `mapstructure:"worker" yaml:"worker" json:"worker"`
	Storage store.Config    `mapstructure:"storage" yaml:"storage" json:"storage"`
	Queue   queue.Config    `mapstructure:"queue" yaml:"queue" json:"queue"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// OCRConfig contains the engine backend, multi-track and text type settings.
type OCRConfig struct {
	Engine    string        `mapstructure:"engine" yaml:"engine" json:"engine"`
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Languages []string      `mapstructure:"languages" yaml:"languages" json:"languages"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	Burst     int           `mapstructure:"burst" yaml:"burst" json:"burst"`

	SwitchThreshold    float64 `mapstructure:"switch_threshold" yaml:"switch_threshold" json:"switch_threshold"`
	DetectionThreshold float64 `mapstructure:"detection_threshold" yaml:"detection_threshold" json:"detection_threshold"`
	FallbackEnabled    bool    `mapstructure:"fallback_enabled" yaml:"fallback_enabled" json:"fallback_enabled"`
	ModelPriority      string  `mapstructure:"model_priority" yaml:"model_priority" json:"model_priority"`
	LogSwitches        bool    `mapstructure:"log_switches" yaml:"log_switches" json:"log_switches"`

	TextType texttype.Config `mapstructure:"text_type" yaml:"text_type" json:"text_type"`
}

// EnsembleConfig selects how component confidences are combined.
type EnsembleConfig struct {
	AggregationMethod string  `mapstructure:"aggregation_method" yaml:"aggregation_method" json:"aggregation_method"`
	VariancePenalty   float64 `mapstructure:"variance_penalty" yaml:"variance_penalty" json:"variance_penalty"`
}

// CalibrationConfig holds the fitted temperatures and the search bounds.
type CalibrationConfig struct {
	OptimalTemperatures map[string]float64 `mapstructure:"optimal_temperatures" yaml:"optimal_temperatures" json:"optimal_temperatures"`
	SearchMin           float64            `mapstructure:"search_min" yaml:"search_min" json:"search_min"`
	SearchMax           float64            `mapstructure:"search_max" yaml:"search_max" json:"search_max"`
	NumBins             int                `mapstructure:"num_bins" yaml:"num_bins" json:"num_bins"`
	MaxIter             int                `mapstructure:"max_iter" yaml:"max_iter" json:"max_iter"`
}

// ConfidenceScoringConfig holds the document component weights.
type ConfidenceScoringConfig struct {
	Weights ComponentWeights `mapstructure:"weights" yaml:"weights" json:"weights"`
}

// ComponentWeights are the ocr/lingua/comply weights of the ensemble.
type ComponentWeights struct {
	OCR    float64 `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Lingua float64 `mapstructure:"lingua" yaml:"lingua" json:"lingua"`
	Comply float64 `mapstructure:"comply" yaml:"comply" json:"comply"`
}

// SelectiveConfig holds the routing thresholds and per-domain overrides.
type SelectiveConfig struct {
	Thresholds      selective.Thresholds          `mapstructure:"thresholds" yaml:"thresholds" json:"thresholds"`
	DomainOverrides map[string]map[string]float64 `mapstructure:"domain_overrides" yaml:"domain_overrides" json:"domain_overrides"`
	OODPenalty      float64                       `mapstructure:"ood_penalty" yaml:"ood_penalty" json:"ood_penalty"`
}

// UncertaintyConfig configures the uncertainty quantifier.
type UncertaintyConfig struct {
	OODThreshold    float64 `mapstructure:"ood_threshold" yaml:"ood_threshold" json:"ood_threshold"`
	EpistemicWeight float64 `mapstructure:"epistemic_weight" yaml:"epistemic_weight" json:"epistemic_weight"`
	AleatoricWeight float64 `mapstructure:"aleatoric_weight" yaml:"aleatoric_weight" json:"aleatoric_weight"`
	AutoOOD         bool    `mapstructure:"auto_ood" yaml:"auto_ood" json:"auto_ood"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string  `mapstructure:"host" yaml:"host" json:"host"`
	Port            int     `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string  `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int     `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst" yaml:"rate_burst" json:"rate_burst"`
	// Async hands POST /v1/jobs to the queue workers instead of processing inline.
	Async           bool    `mapstructure:"async" yaml:"async" json:"async"`
	UploadDir       string  `mapstructure:"upload_dir" yaml:"upload_dir" json:"upload_dir"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	mt := ocr.DefaultConfig()
	profile := decision.DefaultProfile()
	weights := ensemble.DefaultComponentWeights()

	return Config{
		LogLevel: "info",
		OCR: OCRConfig{
			Engine:             ocr.EngineNone,
			Timeout:            30 * time.Second,
			Languages:          []string{"eng"},
			RateLimit:          10,
			Burst:              5,
			SwitchThreshold:    mt.SwitchThreshold,
			DetectionThreshold: mt.DetectionThreshold,
			FallbackEnabled:    mt.FallbackEnabled,
			ModelPriority:      string(mt.ModelPriority),
			LogSwitches:        mt.LogSwitches,
			TextType:           texttype.DefaultConfig(),
		},
		PostProcess: postprocess.DefaultConfig(),
		Lingua:      lingua.DefaultConfig(),
		Scorer:      scoring.DefaultConfig(),
		Ensemble: EnsembleConfig{
			AggregationMethod: string(profile.Ensemble.Method),
			VariancePenalty:   profile.Ensemble.VariancePenalty,
		},
		Calibration: CalibrationConfig{
			OptimalTemperatures: maps.Clone(profile.Temperatures),
			SearchMin:           profile.Calibration.SearchMin,
			SearchMax:           profile.Calibration.SearchMax,
			NumBins:             profile.Calibration.NumBins,
			MaxIter:             profile.Calibration.MaxIter,
		},
		ConfidenceScoring: ConfidenceScoringConfig{
			Weights: ComponentWeights{
				OCR:    weights[ensemble.ComponentOCR],
				Lingua: weights[ensemble.ComponentLingua],
				Comply: weights[ensemble.ComponentComply],
			},
		},
		SelectiveClassification: SelectiveConfig{
			Thresholds:      profile.Selective.Thresholds,
			DomainOverrides: profile.Selective.DomainOverrides,
			OODPenalty:      profile.Selective.OODPenalty,
		},
		Uncertainty: UncertaintyConfig{
			OODThreshold:    profile.Uncertainty.OODThreshold,
			EpistemicWeight: profile.Uncertainty.EpistemicWeight,
			AleatoricWeight: profile.Uncertainty.AleatoricWeight,
		},
		Review: review.DefaultConfig(),
		Worker: pipeline.DefaultConfig(),
		Storage: store.Config{
			Driver: store.DriverFile,
			Dir:    "data/results",
		},
		Queue: queue.DefaultConfig(),
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			RateLimit:       20,
			RateBurst:       40,
			UploadDir:       "data/uploads",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validEngines := []string{ocr.EngineHTTP, ocr.EngineTesseract, ocr.EngineNone}
	if c.OCR.Engine != "" && !contains(validEngines, strings.ToLower(c.OCR.Engine)) {
		return fmt.Errorf("invalid OCR engine: %s (must be one of: %s)", c.OCR.Engine, strings.Join(validEngines, ", "))
	}
	if strings.EqualFold(c.OCR.Engine, ocr.EngineHTTP) && c.OCR.Endpoint == "" {
		return fmt.Errorf("ocr.endpoint is required for the %s engine", ocr.EngineHTTP)
	}
	if !ocr.ModelType(c.OCR.ModelPriority).Valid() {
		return fmt.Errorf("invalid ocr.model_priority: %s (must be printed or handwritten)", c.OCR.ModelPriority)
	}
	if err := validateThreshold(c.OCR.SwitchThreshold, "ocr.switch_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.OCR.DetectionThreshold, "ocr.detection_threshold"); err != nil {
		return err
	}
	if c.OCR.RateLimit < 0 {
		return fmt.Errorf("invalid ocr.rate_limit: %.2f (must not be negative)", c.OCR.RateLimit)
	}

	if err := c.Lingua.Validate(); err != nil {
		return err
	}
	if err := c.validateScorer(); err != nil {
		return err
	}
	if err := c.ToProfile().Validate(); err != nil {
		return fmt.Errorf("invalid calibration profile: %w", err)
	}
	if err := validateThreshold(c.Review.TrustScoreThreshold, "review.trust_score_threshold"); err != nil {
		return err
	}
	if c.Review.DefaultLimit <= 0 || c.Review.MaxLimit < c.Review.DefaultLimit {
		return fmt.Errorf("invalid review limits: default %d, max %d (need 0 < default <= max)",
			c.Review.DefaultLimit, c.Review.MaxLimit)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("invalid worker concurrency: %d (must be positive)", c.Worker.Concurrency)
	}
	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("invalid worker job timeout: %s (must be positive)", c.Worker.JobTimeout)
	}

	validDrivers := []string{store.DriverMemory, store.DriverFile, store.DriverPostgres}
	if !contains(validDrivers, strings.ToLower(c.Storage.Driver)) {
		return fmt.Errorf("invalid storage driver: %s (must be one of: %s)", c.Storage.Driver, strings.Join(validDrivers, ", "))
	}
	if strings.EqualFold(c.Storage.Driver, store.DriverPostgres) && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the %s driver", store.DriverPostgres)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("invalid queue concurrency: %d (must be positive)", c.Queue.Concurrency)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.Async && c.Server.UploadDir == "" {
		return errors.New("server.upload_dir is required when server.async is enabled")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("invalid server rate limit: %.2f (must not be negative)", c.Server.RateLimit)
	}

	return nil
}

func (c *Config) validateScorer() error {
	w := c.Scorer.Weights
	for name, v := range map[string]float64{
		"scorer.weights.ocr_confidence":            w.OCR,
		"scorer.weights.language_model_confidence": w.LanguageModel,
		"scorer.weights.dictionary_match":          w.DictionaryMatch,
		"scorer.weights.pattern_validation":        w.PatternValidation,
	} {
		if err := validateThreshold(v, name); err != nil {
			return err
		}
	}
	t := c.Scorer.Thresholds
	if t.High < t.Good || t.Good < t.Moderate || t.Moderate < t.Low {
		return fmt.Errorf("scorer thresholds must be non-increasing: %+v", t)
	}
	return validateThreshold(c.Scorer.Penalties.MismatchThreshold, "scorer.penalties.pattern_mismatch_threshold")
}

// ToProfile converts the routing sections into a decision profile.
func (c *Config) ToProfile() decision.Profile {
	p := decision.DefaultProfile()

	p.Ensemble = ensemble.Config{
		Method:          ensemble.Method(strings.ToLower(c.Ensemble.AggregationMethod)),
		VariancePenalty: c.Ensemble.VariancePenalty,
		ComponentWeights: map[string]float64{
			ensemble.ComponentOCR:    c.ConfidenceScoring.Weights.OCR,
			ensemble.ComponentLingua: c.ConfidenceScoring.Weights.Lingua,
			ensemble.ComponentComply: c.ConfidenceScoring.Weights.Comply,
		},
	}
	if len(c.Calibration.OptimalTemperatures) > 0 {
		p.Temperatures = maps.Clone(c.Calibration.OptimalTemperatures)
	}
	p.Calibration = c.toCalibrationConfig()
	p.Selective = selective.Config{
		Thresholds:      c.SelectiveClassification.Thresholds,
		DomainOverrides: c.SelectiveClassification.DomainOverrides,
		OODPenalty:      c.SelectiveClassification.OODPenalty,
	}
	p.Uncertainty = uncertainty.Quantifier{
		OODThreshold:    c.Uncertainty.OODThreshold,
		EpistemicWeight: c.Uncertainty.EpistemicWeight,
		AleatoricWeight: c.Uncertainty.AleatoricWeight,
	}
	p.AutoOOD = c.Uncertainty.AutoOOD
	return p
}

// toCalibrationConfig keeps the default tolerance and fills zero values.
func (c *Config) toCalibrationConfig() calibration.Config {
	cfg := calibration.DefaultConfig()
	if c.Calibration.SearchMin > 0 {
		cfg.SearchMin = c.Calibration.SearchMin
	}
	if c.Calibration.SearchMax > cfg.SearchMin {
		cfg.SearchMax = c.Calibration.SearchMax
	}
	if c.Calibration.NumBins > 0 {
		cfg.NumBins = c.Calibration.NumBins
	}
	if c.Calibration.MaxIter > 0 {
		cfg.MaxIter = c.Calibration.MaxIter
	}
	return cfg
}

// ToEngineConfig converts to the OCR backend configuration.
func (c *Config) ToEngineConfig() ocr.EngineConfig {
	return ocr.EngineConfig{
		Engine:    c.OCR.Engine,
		Endpoint:  c.OCR.Endpoint,
		Timeout:   c.OCR.Timeout,
		Languages: c.OCR.Languages,
		RateLimit: c.OCR.RateLimit,
		Burst:     c.OCR.Burst,
	}
}

// ToMultiTrackConfig converts to the multi-track OCR configuration.
func (c *Config) ToMultiTrackConfig() ocr.Config {
	return ocr.Config{
		SwitchThreshold:    c.OCR.SwitchThreshold,
		DetectionThreshold: c.OCR.DetectionThreshold,
		FallbackEnabled:    c.OCR.FallbackEnabled,
		ModelPriority:      ocr.ModelType(c.OCR.ModelPriority),
		LogSwitches:        c.OCR.LogSwitches,
	}
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
