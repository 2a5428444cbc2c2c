package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "trustroute"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "TRUSTROUTE"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags
// bound by the CLI are visible.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a caller-owned viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load searches the standard paths for a config file, applies environment
// variables and defaults, and validates the result. A missing config file
// is not an error.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal(true)
}

// LoadWithFile loads configuration from a specific file path. An empty path
// falls back to Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.unmarshal(true)
}

// LoadWithoutValidation resolves the configuration like LoadWithFile but
// skips Validate. Used by `config init` and diagnostics.
func (l *Loader) LoadWithoutValidation(configFile string) (*Config, error) {
	if configFile != "" {
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal(false)
}

func (l *Loader) unmarshal(validate bool) (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if !validate {
		return &config, nil
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables maps keys like server.port to TRUSTROUTE_SERVER_PORT.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	// OCR
	l.v.SetDefault("ocr.engine", d.OCR.Engine)
	l.v.SetDefault("ocr.endpoint", d.OCR.Endpoint)
	l.v.SetDefault("ocr.timeout", d.OCR.Timeout)
	l.v.SetDefault("ocr.languages", d.OCR.Languages)
	l.v.SetDefault("ocr.rate_limit", d.OCR.RateLimit)
	l.v.SetDefault("ocr.burst", d.OCR.Burst)
	l.v.SetDefault("ocr.switch_threshold", d.OCR.SwitchThreshold)
	l.v.SetDefault("ocr.detection_threshold", d.OCR.DetectionThreshold)
	l.v.SetDefault("ocr.fallback_enabled", d.OCR.FallbackEnabled)
	l.v.SetDefault("ocr.model_priority", d.OCR.ModelPriority)
	l.v.SetDefault("ocr.log_switches", d.OCR.LogSwitches)
	l.v.SetDefault("ocr.text_type.edge_density_threshold", d.OCR.TextType.EdgeDensityThreshold)
	l.v.SetDefault("ocr.text_type.stroke_variance_threshold", d.OCR.TextType.StrokeVarianceThreshold)
	l.v.SetDefault("ocr.text_type.vertical_variance_threshold", d.OCR.TextType.VerticalVarianceThreshold)

	// Post-processing
	l.v.SetDefault("postprocess.dictionaries_dir", d.PostProcess.DictionariesDir)
	l.v.SetDefault("postprocess.hinglish", d.PostProcess.Hinglish)
	l.v.SetDefault("postprocess.abbreviations", d.PostProcess.Abbreviations)

	// Lingua confidence
	l.v.SetDefault("lingua.weights.ocr_confidence", d.Lingua.Weights.OCR)
	l.v.SetDefault("lingua.weights.correction_confidence", d.Lingua.Weights.Correction)
	l.v.SetDefault("lingua.weights.dictionary_match", d.Lingua.Weights.DictionaryMatch)
	l.v.SetDefault("lingua.weights.domain_validation", d.Lingua.Weights.DomainValidation)
	l.v.SetDefault("lingua.weights.language_coherence", d.Lingua.Weights.LanguageCoherence)
	l.v.SetDefault("lingua.defaults.dictionary_match", d.Lingua.Defaults.DictionaryMatch)
	l.v.SetDefault("lingua.defaults.domain_validation", d.Lingua.Defaults.DomainValidation)
	l.v.SetDefault("lingua.correction_penalty", d.Lingua.CorrectionPenalty)
	l.v.SetDefault("lingua.correction_floor", d.Lingua.CorrectionFloor)
	l.v.SetDefault("lingua.mixed_script_score", d.Lingua.MixedScriptScore)
	l.v.SetDefault("lingua.thresholds.high_confidence", d.Lingua.Thresholds.High)
	l.v.SetDefault("lingua.thresholds.good_confidence", d.Lingua.Thresholds.Good)
	l.v.SetDefault("lingua.thresholds.moderate_confidence", d.Lingua.Thresholds.Moderate)
	l.v.SetDefault("lingua.thresholds.low_confidence", d.Lingua.Thresholds.Low)

	// Region trust scorer
	l.v.SetDefault("scorer.weights.ocr_confidence", d.Scorer.Weights.OCR)
	l.v.SetDefault("scorer.weights.language_model_confidence", d.Scorer.Weights.LanguageModel)
	l.v.SetDefault("scorer.weights.dictionary_match", d.Scorer.Weights.DictionaryMatch)
	l.v.SetDefault("scorer.weights.pattern_validation", d.Scorer.Weights.PatternValidation)
	l.v.SetDefault("scorer.penalties.model_switch_penalty", d.Scorer.Penalties.ModelSwitch)
	l.v.SetDefault("scorer.penalties.unknown_word_penalty", d.Scorer.Penalties.UnknownWord)
	l.v.SetDefault("scorer.penalties.unknown_word_cap", d.Scorer.Penalties.UnknownWordCap)
	l.v.SetDefault("scorer.penalties.pattern_mismatch_penalty", d.Scorer.Penalties.PatternMismatch)
	l.v.SetDefault("scorer.penalties.pattern_mismatch_threshold", d.Scorer.Penalties.MismatchThreshold)
	l.v.SetDefault("scorer.thresholds.high_confidence", d.Scorer.Thresholds.High)
	l.v.SetDefault("scorer.thresholds.good_confidence", d.Scorer.Thresholds.Good)
	l.v.SetDefault("scorer.thresholds.moderate_confidence", d.Scorer.Thresholds.Moderate)
	l.v.SetDefault("scorer.thresholds.low_confidence", d.Scorer.Thresholds.Low)

	// Ensemble, calibration and routing
	l.v.SetDefault("ensemble.aggregation_method", d.Ensemble.AggregationMethod)
	l.v.SetDefault("ensemble.variance_penalty", d.Ensemble.VariancePenalty)
	l.v.SetDefault("calibration.optimal_temperatures", d.Calibration.OptimalTemperatures)
	l.v.SetDefault("calibration.search_min", d.Calibration.SearchMin)
	l.v.SetDefault("calibration.search_max", d.Calibration.SearchMax)
	l.v.SetDefault("calibration.num_bins", d.Calibration.NumBins)
	l.v.SetDefault("calibration.max_iter", d.Calibration.MaxIter)
	l.v.SetDefault("confidence_scoring.weights.ocr", d.ConfidenceScoring.Weights.OCR)
	l.v.SetDefault("confidence_scoring.weights.lingua", d.ConfidenceScoring.Weights.Lingua)
	l.v.SetDefault("confidence_scoring.weights.comply", d.ConfidenceScoring.Weights.Comply)
	l.v.SetDefault("selective_classification.thresholds.auto_accept", d.SelectiveClassification.Thresholds.AutoAccept)
	l.v.SetDefault("selective_classification.thresholds.light_review", d.SelectiveClassification.Thresholds.LightReview)
	l.v.SetDefault("selective_classification.thresholds.full_review", d.SelectiveClassification.Thresholds.FullReview)
	l.v.SetDefault("selective_classification.thresholds.manual_correction", d.SelectiveClassification.Thresholds.ManualCorrection)
	l.v.SetDefault("selective_classification.domain_overrides", d.SelectiveClassification.DomainOverrides)
	l.v.SetDefault("selective_classification.ood_penalty", d.SelectiveClassification.OODPenalty)
	l.v.SetDefault("uncertainty.ood_threshold", d.Uncertainty.OODThreshold)
	l.v.SetDefault("uncertainty.epistemic_weight", d.Uncertainty.EpistemicWeight)
	l.v.SetDefault("uncertainty.aleatoric_weight", d.Uncertainty.AleatoricWeight)
	l.v.SetDefault("uncertainty.auto_ood", d.Uncertainty.AutoOOD)

	// Review
	l.v.SetDefault("review.trust_score_threshold", d.Review.TrustScoreThreshold)
	l.v.SetDefault("review.default_limit", d.Review.DefaultLimit)
	l.v.SetDefault("review.max_limit", d.Review.MaxLimit)

	// Worker, storage and queue
	l.v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	l.v.SetDefault("worker.job_timeout", d.Worker.JobTimeout)
	l.v.SetDefault("worker.domain", d.Worker.Domain)
	l.v.SetDefault("storage.driver", d.Storage.Driver)
	l.v.SetDefault("storage.dir", d.Storage.Dir)
	l.v.SetDefault("storage.dsn", d.Storage.DSN)
	l.v.SetDefault("queue.redis_url", d.Queue.RedisURL)
	l.v.SetDefault("queue.name", d.Queue.Name)
	l.v.SetDefault("queue.concurrency", d.Queue.Concurrency)
	l.v.SetDefault("queue.max_retry", d.Queue.MaxRetry)
	l.v.SetDefault("queue.retention", d.Queue.Retention)

	// Server
	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit", d.Server.RateLimit)
	l.v.SetDefault("server.rate_burst", d.Server.RateBurst)
	l.v.SetDefault("server.async", d.Server.Async)
	l.v.SetDefault("server.upload_dir", d.Server.UploadDir)
}

// GenerateDefaultConfigFile writes DefaultConfig as yaml. It refuses to
// overwrite an existing file unless force is set.
func GenerateDefaultConfigFile(filename string, force bool) (string, error) {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	if !force {
		if _, err := os.Stat(filename); err == nil {
			return "", fmt.Errorf("config file already exists: %s", filename)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}
	header := []byte("# trustroute configuration\n# Every key can be overridden with " + EnvPrefix + "_<SECTION>_<KEY>.\n")
	if err := os.WriteFile(filename, append(header, data...), 0o644); err != nil {
		return "", fmt.Errorf("write config file: %w", err)
	}
	return filename, nil
}

// WriteTemperature stores a fitted temperature under
// calibration.optimal_temperatures.<domain>, creating the file if needed.
// Other keys of an existing file are preserved.
func WriteTemperature(filename, domain string, temperature float64) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	if domain == "" {
		return errors.New("domain is required")
	}

	doc := map[string]any{}
	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", filename, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read %s: %w", filename, err)
	}

	cal, _ := doc["calibration"].(map[string]any)
	if cal == nil {
		cal = map[string]any{}
	}
	temps, _ := cal["optimal_temperatures"].(map[string]any)
	if temps == nil {
		temps = map[string]any{}
	}
	temps[strings.ToLower(domain)] = temperature
	cal["optimal_temperatures"] = temps
	doc["calibration"] = cal

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filename, err)
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(filename, out, 0o644)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	paths = append(paths, "/etc/"+ConfigFileName)

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	return paths
}
