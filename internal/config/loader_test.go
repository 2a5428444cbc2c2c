package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every search path at an empty temp dir and clears
// TRUSTROUTE_ variables inherited from the environment.
func isolate(t *testing.T) string {
	t.Helper()
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, EnvPrefix+"_") {
			name, _, _ := strings.Cut(env, "=")
			t.Setenv(name, "")
			require.NoError(t, os.Unsetenv(name))
		}
	}
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Chdir(dir)
	return dir
}

func newTestLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewLoader(t *testing.T) {
	l := NewLoader()
	require.NotNil(t, l)
	assert.Same(t, viper.GetViper(), l.GetViper())
}

func TestLoadWithNoConfigFile(t *testing.T) {
	isolate(t)

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, def.Worker, cfg.Worker)
	assert.Equal(t, def.Review, cfg.Review)
	assert.Equal(t, def.SelectiveClassification.Thresholds, cfg.SelectiveClassification.Thresholds)
	assert.InDelta(t, 0.95, cfg.SelectiveClassification.DomainOverrides["medical"]["auto_accept"], 1e-9)
	assert.Equal(t, def.Calibration.OptimalTemperatures, cfg.Calibration.OptimalTemperatures)
	assert.Equal(t, def.Scorer, cfg.Scorer)
	assert.Equal(t, def.Lingua, cfg.Lingua)
	assert.Equal(t, "twice daily", cfg.PostProcess.Abbreviations["medical"]["bd"])
}

func TestLoadFindsFileInWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "trustroute.yaml"), "log_level: warn\n")

	l := newTestLoader()
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "trustroute.yaml", filepath.Base(l.GetConfigFileUsed()))
}

func TestLoadWithValidYAMLFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, `
log_level: debug
ensemble:
  aggregation_method: median
  variance_penalty: 0.2
calibration:
  optimal_temperatures:
    medical: 1.8
confidence_scoring:
  weights:
    ocr: 0.5
    lingua: 0.3
    comply: 0.2
selective_classification:
  domain_overrides:
    finance:
      auto_accept: 0.97
lingua:
  weights:
    ocr_confidence: 0.5
    correction_confidence: 0.15
worker:
  concurrency: 8
  job_timeout: 45s
storage:
  driver: memory
server:
  port: 9090
`)

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Worker.JobTimeout)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.InDelta(t, 0.5, cfg.Lingua.Weights.OCR, 1e-9)
	assert.InDelta(t, 0.20, cfg.Lingua.Weights.DictionaryMatch, 1e-9)
	assert.InDelta(t, 1.0, cfg.Lingua.Weights.Sum(), 1e-9)

	p := cfg.ToProfile()
	assert.Equal(t, "median", string(p.Ensemble.Method))
	assert.InDelta(t, 0.2, p.Ensemble.VariancePenalty, 1e-9)
	assert.InDelta(t, 0.5, p.Ensemble.ComponentWeights["ocr"], 1e-9)
	assert.InDelta(t, 1.8, p.Temperature("medical"), 1e-9)
	// defaults for untouched domains survive the merge
	assert.InDelta(t, 1.0, p.Temperature("global"), 1e-9)
	assert.InDelta(t, 0.97, p.Selective.DomainOverrides["finance"]["auto_accept"], 1e-9)
	assert.InDelta(t, 0.85, p.Selective.DomainOverrides["logistics"]["auto_accept"], 1e-9)
}

func TestLoadWithInvalidYAMLFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.yaml")
	writeFile(t, path, "server:\n  port: [unclosed\n")

	_, err := newTestLoader().LoadWithFile(path)
	assert.Error(t, err)
}

func TestLoadWithNonExistentFile(t *testing.T) {
	isolate(t)
	_, err := newTestLoader().LoadWithFile("/does/not/exist/trustroute.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoadWithValidationFailure(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "invalid.yaml")
	writeFile(t, path, "ensemble:\n  aggregation_method: geometric\n")

	_, err := newTestLoader().LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	cfg, err := newTestLoader().LoadWithoutValidation(path)
	require.NoError(t, err)
	assert.Equal(t, "geometric", cfg.Ensemble.AggregationMethod)
}

func TestEnvironmentVariableOverride(t *testing.T) {
	isolate(t)
	t.Setenv("TRUSTROUTE_SERVER_PORT", "9191")
	t.Setenv("TRUSTROUTE_WORKER_JOB_TIMEOUT", "30s")
	t.Setenv("TRUSTROUTE_ENSEMBLE_AGGREGATION_METHOD", "mean")
	t.Setenv("TRUSTROUTE_LOG_LEVEL", "error")

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Worker.JobTimeout)
	assert.Equal(t, "mean", cfg.Ensemble.AggregationMethod)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "trustroute.yaml")
	writeFile(t, path, "server:\n  port: 7000\n")
	t.Setenv("TRUSTROUTE_SERVER_PORT", "7001")

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "generated.yaml")

	written, err := GenerateDefaultConfigFile(path, false)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "selective_classification:")
	assert.Contains(t, string(data), "aggregation_method: variance_weighted")

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	def := DefaultConfig()
	assert.Equal(t, def.Worker, cfg.Worker)
	assert.Equal(t, def.Queue, cfg.Queue)
	assert.Equal(t, def.OCR.Timeout, cfg.OCR.Timeout)
	assert.Equal(t, def.SelectiveClassification.DomainOverrides, cfg.SelectiveClassification.DomainOverrides)

	_, err = GenerateDefaultConfigFile(path, false)
	assert.Error(t, err, "existing file must not be overwritten")
	_, err = GenerateDefaultConfigFile(path, true)
	assert.NoError(t, err)
}

func TestGenerateDefaultConfigFileWithEmptyFilename(t *testing.T) {
	dir := isolate(t)

	written, err := GenerateDefaultConfigFile("", false)
	require.NoError(t, err)
	assert.Equal(t, "trustroute.yaml", written)
	_, err = os.Stat(filepath.Join(dir, "trustroute.yaml"))
	assert.NoError(t, err)
}

func TestWriteTemperature(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "trustroute.yaml")
	writeFile(t, path, "server:\n  port: 9000\ncalibration:\n  optimal_temperatures:\n    logistics: 1.2\n")

	require.NoError(t, WriteTemperature(path, "Medical", 1.75))

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	p := cfg.ToProfile()
	assert.InDelta(t, 1.75, p.Temperature("medical"), 1e-9)
	assert.InDelta(t, 1.2, p.Temperature("logistics"), 1e-9)
}

func TestWriteTemperatureCreatesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "conf", "trustroute.yaml")

	require.NoError(t, WriteTemperature(path, "global", 2.5))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "global: 2.5")

	assert.Error(t, WriteTemperature(path, "", 1.0))
}

func TestGetConfigSearchPaths(t *testing.T) {
	dir := isolate(t)
	paths := GetConfigSearchPaths()

	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, dir)
	assert.Contains(t, paths, "/etc/trustroute")
	assert.Contains(t, paths, filepath.Join(dir, "xdg", "trustroute"))
}
