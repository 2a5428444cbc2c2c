package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/ocr"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ocr.EngineNone, cfg.OCR.Engine)
	assert.Equal(t, "printed", cfg.OCR.ModelPriority)
	assert.InDelta(t, 0.70, cfg.OCR.SwitchThreshold, 1e-9)
	assert.Equal(t, "variance_weighted", cfg.Ensemble.AggregationMethod)
	assert.InDelta(t, 0.15, cfg.Ensemble.VariancePenalty, 1e-9)
	assert.InDelta(t, 0.40, cfg.ConfidenceScoring.Weights.OCR, 1e-9)
	assert.InDelta(t, 0.35, cfg.ConfidenceScoring.Weights.Lingua, 1e-9)
	assert.InDelta(t, 0.25, cfg.ConfidenceScoring.Weights.Comply, 1e-9)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 600*time.Second, cfg.Worker.JobTimeout)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestDefaultConfigMatchesDefaultProfile(t *testing.T) {
	cfg := DefaultConfig()
	p := cfg.ToProfile()
	def := decision.DefaultProfile()

	assert.Equal(t, def.Ensemble, p.Ensemble)
	assert.Equal(t, def.Temperatures, p.Temperatures)
	assert.Equal(t, def.Selective, p.Selective)
	assert.Equal(t, def.Uncertainty, p.Uncertainty)
	assert.Equal(t, def.Calibration, p.Calibration)
	assert.False(t, p.AutoOOD)
}

func TestDefaultConfigIsNotShared(t *testing.T) {
	a := DefaultConfig()
	a.Calibration.OptimalTemperatures["medical"] = 3.0

	b := DefaultConfig()
	assert.InDelta(t, 1.0, b.Calibration.OptimalTemperatures["medical"], 1e-9)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"unknown engine", func(c *Config) { c.OCR.Engine = "cloud" }, "invalid OCR engine"},
		{"http engine without endpoint", func(c *Config) { c.OCR.Engine = "http" }, "ocr.endpoint"},
		{"http engine with endpoint", func(c *Config) {
			c.OCR.Engine = "http"
			c.OCR.Endpoint = "http://localhost:9000/ocr"
		}, ""},
		{"bad model priority", func(c *Config) { c.OCR.ModelPriority = "cursive" }, "model_priority"},
		{"switch threshold out of range", func(c *Config) { c.OCR.SwitchThreshold = 1.5 }, "ocr.switch_threshold"},
		{"negative ocr rate", func(c *Config) { c.OCR.RateLimit = -1 }, "ocr.rate_limit"},
		{"lingua weights do not sum to one", func(c *Config) { c.Lingua.Weights.Correction = 0.5 }, "lingua weights must sum"},
		{"lingua default out of range", func(c *Config) { c.Lingua.Defaults.DomainValidation = -1 }, "lingua.defaults.domain_validation"},
		{"scorer weight out of range", func(c *Config) { c.Scorer.Weights.OCR = 2 }, "scorer.weights.ocr_confidence"},
		{"scorer thresholds unordered", func(c *Config) { c.Scorer.Thresholds.Good = 0.9 }, "non-increasing"},
		{"unknown aggregation", func(c *Config) { c.Ensemble.AggregationMethod = "max" }, "aggregation method"},
		{"negative variance penalty", func(c *Config) { c.Ensemble.VariancePenalty = -0.1 }, "variance penalty"},
		{"zero temperature", func(c *Config) { c.Calibration.OptimalTemperatures["medical"] = 0 }, "temperature"},
		{"negative component weight", func(c *Config) { c.ConfidenceScoring.Weights.Comply = -1 }, "component weight"},
		{"selective thresholds unordered", func(c *Config) { c.SelectiveClassification.Thresholds.LightReview = 0.95 }, "selective thresholds"},
		{"review limits", func(c *Config) { c.Review.MaxLimit = 5 }, "review limits"},
		{"worker concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker concurrency"},
		{"job timeout", func(c *Config) { c.Worker.JobTimeout = 0 }, "job timeout"},
		{"storage driver", func(c *Config) { c.Storage.Driver = "s3" }, "storage driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"queue concurrency", func(c *Config) { c.Queue.Concurrency = 0 }, "queue concurrency"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server port"},
		{"upload size", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max upload"},
		{"server rate", func(c *Config) { c.Server.RateLimit = -2 }, "rate limit"},
		{"async without upload dir", func(c *Config) { c.Server.Async = true; c.Server.UploadDir = "" }, "upload_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToProfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ensemble.AggregationMethod = "MEAN"
	cfg.ConfidenceScoring.Weights = ComponentWeights{OCR: 0.6, Lingua: 0.2, Comply: 0.2}
	cfg.Calibration.OptimalTemperatures = map[string]float64{"global": 1.4}
	cfg.Calibration.NumBins = 15
	cfg.Uncertainty.AutoOOD = true

	p := cfg.ToProfile()
	require.NoError(t, p.Validate())
	assert.Equal(t, "mean", string(p.Ensemble.Method))
	assert.InDelta(t, 0.6, p.Ensemble.ComponentWeights["ocr"], 1e-9)
	assert.InDelta(t, 1.4, p.Temperature("medical"), 1e-9)
	assert.Equal(t, 15, p.Calibration.NumBins)
	assert.True(t, p.AutoOOD)

	// the profile owns its temperature map
	cfg.Calibration.OptimalTemperatures["global"] = 9
	assert.InDelta(t, 1.4, p.Temperature("global"), 1e-9)
}

func TestToProfileEmptyTemperaturesKeepsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Calibration.OptimalTemperatures = nil
	cfg.Calibration.SearchMax = 0

	p := cfg.ToProfile()
	assert.Equal(t, decision.DefaultProfile().Temperatures, p.Temperatures)
	assert.InDelta(t, 5.0, p.Calibration.SearchMax, 1e-9)
}

func TestToEngineAndMultiTrackConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OCR.Engine = "http"
	cfg.OCR.Endpoint = "http://ocr:9000"
	cfg.OCR.ModelPriority = "handwritten"
	cfg.OCR.FallbackEnabled = false

	e := cfg.ToEngineConfig()
	assert.Equal(t, "http", e.Engine)
	assert.Equal(t, "http://ocr:9000", e.Endpoint)
	assert.Equal(t, 30*time.Second, e.Timeout)
	assert.InDelta(t, 10, e.RateLimit, 1e-9)

	m := cfg.ToMultiTrackConfig()
	assert.Equal(t, ocr.ModelHandwritten, m.ModelPriority)
	assert.False(t, m.FallbackEnabled)
	assert.InDelta(t, 0.75, m.DetectionThreshold, 1e-9)
}
