package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/review"
	"github.com/MeKo-Tech/trustroute/internal/selective"
	"github.com/MeKo-Tech/trustroute/internal/testutil"
)

// isolate runs the test in an empty directory with no user config.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	t.Chdir(dir)
	return dir
}

// resetFlags restores every flag in the tree, since cobra keeps flag
// state between Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the CLI and returns stdout and stderr separately.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfgFile = ""
	globalConfig = nil

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "trustroute", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
}

func TestRootCommandHelp(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "trustroute version dev")
}

func TestRootCommandSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, expected := range []string{"serve", "score", "calibrate", "process", "review", "worker", "config", "export"} {
		assert.True(t, names[expected], "missing subcommand %s", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	isolate(t)
	_, errOut, err := execute(t, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, errOut, "unknown flag")
}

func TestScoreCommand(t *testing.T) {
	isolate(t)

	t.Run("flags to json", func(t *testing.T) {
		out, _, err := execute(t, "score", "--ocr", "0.9", "--lingua", "0.9", "--comply", "0.9", "--document-id", "d1", "--format", "json")
		require.NoError(t, err)

		var d decision.Decision
		require.NoError(t, json.Unmarshal([]byte(out), &d))
		assert.Equal(t, "d1", d.DocumentID)
		assert.Equal(t, selective.AutoAccept, d.ReviewAction)
	})

	t.Run("file input as text", func(t *testing.T) {
		path := testutil.WriteFile(t, ".", "doc.json", `{"ocr_confidence":0.99,"lingua_confidence":0.99,"comply_confidence":0.99,"is_anomalous":true}`)
		out, _, err := execute(t, "score", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Review action:     FULL_REVIEW")
		assert.Contains(t, out, "Penalties:")
	})

	t.Run("no input", func(t *testing.T) {
		_, _, err := execute(t, "score")
		assert.ErrorContains(t, err, "no input")
	})

	t.Run("out of range", func(t *testing.T) {
		_, _, err := execute(t, "score", "--ocr", "1.4", "--lingua", "0.5", "--comply", "0.5")
		assert.ErrorContains(t, err, "ocr_confidence")
	})
}

func TestCalibrateCommand_Write(t *testing.T) {
	dir := isolate(t)
	set := testutil.OverconfidentSet()
	data, err := json.Marshal(calibrationInput{Confidences: set.Confidences, Correctness: set.Correct})
	require.NoError(t, err)
	labels := testutil.WriteFile(t, dir, "labels.json", string(data))
	cfgPath := filepath.Join(dir, "custom.yaml")
	testutil.WriteFile(t, dir, "custom.yaml", "log_level: warn\n")

	out, errOut, err := execute(t, "calibrate", labels, "--domain", "Logistics", "--write", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var res decision.CalibrationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Greater(t, res.OptimalTemperature, 1.0)
	assert.Contains(t, errOut, "Wrote temperature")

	raw, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	assert.Equal(t, "warn", doc["log_level"])
	temps := doc["calibration"].(map[string]any)["optimal_temperatures"].(map[string]any)
	assert.InDelta(t, res.OptimalTemperature, temps["logistics"], 1e-9)
}

func TestCalibrateCommand_Text(t *testing.T) {
	dir := isolate(t)
	labels := testutil.WriteFile(t, dir, "labels.json", `{"confidences":[0.9,0.8,0.7,0.6],"correctness":[true,true,false,true]}`)

	out, _, err := execute(t, "calibrate", labels)
	require.NoError(t, err)
	assert.Contains(t, out, "Domain:              global")
	assert.Contains(t, out, "Optimal temperature:")
	assert.NoFileExists(t, filepath.Join(dir, "trustroute.yaml"))
}

func TestProcessAndReview(t *testing.T) {
	dir := isolate(t)
	img := testutil.CreateTestImageWithText("INVOICE 42", 200, 40)
	testutil.SaveImage(t, img, filepath.Join(dir, "scan.png"))

	// the default "none" engine degrades every region into the review queue
	out, _, err := execute(t, "process", "scan.png", "--job-id", "job-cli", "--format", "json")
	require.NoError(t, err)
	var res document.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "job-cli", res.JobID)
	require.Len(t, res.Fields, 1)
	regionID := res.Fields[0].ID

	out, _, err = execute(t, "review", "queue", "--format", "json")
	require.NoError(t, err)
	var items []document.QueueItem
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, regionID, items[0].RegionID)

	out, _, err = execute(t, "review", "apply", regionID, "--user", "alice", "--action", "APPROVE")
	require.NoError(t, err)
	assert.Contains(t, out, "approve by alice")

	_, _, err = execute(t, "review", "apply", regionID, "--user", "bob", "--action", "approve")
	assert.ErrorIs(t, err, review.ErrNotFound)

	out, _, err = execute(t, "review", "stats", "--format", "json")
	require.NoError(t, err)
	var stats review.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.TotalRegions)
	assert.Equal(t, 1, stats.VerifiedRegions)
	assert.Equal(t, 1, stats.ActionBreakdown["approve"])

	out, _, err = execute(t, "review", "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "Review queue is empty")
}

func TestProcessReusedJobIDAndExport(t *testing.T) {
	dir := isolate(t)
	testutil.SaveImage(t, testutil.CreateTestImageWithText("T0TAL", 200, 40), filepath.Join(dir, "scan.png"))

	out, _, err := execute(t, "process", "scan.png", "--job-id", "job-1", "--format", "json")
	require.NoError(t, err)
	var res document.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Fields, 1)
	regionID := res.Fields[0].ID

	_, _, err = execute(t, "review", "apply", regionID, "--user", "alice", "--action", "correct", "--value", "TOTAL")
	require.NoError(t, err)

	_, _, err = execute(t, "process", "scan.png", "--job-id", "job-1")
	require.ErrorIs(t, err, pipeline.ErrJobExists)

	_, errOut, err := execute(t, "export")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Exported 1 training items to training.jsonl")

	raw, err := os.ReadFile(filepath.Join(dir, "training.jsonl"))
	require.NoError(t, err)
	var item review.TrainingItem
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &item))
	assert.Equal(t, "job-1", item.JobID)
	assert.Equal(t, regionID, item.RegionID)
	assert.Equal(t, "TOTAL", item.VerifiedValue)
	assert.Equal(t, 1, item.Page)
	assert.Equal(t, 200, item.BBox.Width)

	out, _, err = execute(t, "export", "--output", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"verified_value":"TOTAL"`)
}

func TestProcessCommand_Errors(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "process", "notes.txt")
	assert.ErrorContains(t, err, "unsupported image format")

	_, _, err = execute(t, "process", "missing.png")
	assert.Error(t, err)

	_, _, err = execute(t, "process")
	assert.Error(t, err)
}

func TestReviewApply_RequiresFlags(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "review", "apply", "r1")
	assert.ErrorContains(t, err, "required flag")
}

func TestConfigInit(t *testing.T) {
	dir := isolate(t)

	out, _, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "trustroute.yaml")
	assert.FileExists(t, filepath.Join(dir, "trustroute.yaml"))

	_, _, err = execute(t, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, _, err = execute(t, "config", "init", "--force")
	assert.NoError(t, err)

	out, _, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"server"`)
}

func TestInvalidConfigFile(t *testing.T) {
	dir := isolate(t)
	path := testutil.WriteFile(t, dir, "bad.yaml", "server:\n  port: 70000\n")

	_, _, err := execute(t, "score", "--ocr", "0.9", "--lingua", "0.9", "--comply", "0.9", "--config", path)
	assert.ErrorContains(t, err, "error loading configuration")
}
