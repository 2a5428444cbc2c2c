package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/trustroute/internal/document"
)

// NewRegion returns an unverified region whose raw and normalized text
// are both text.
func NewRegion(id, text string, trust float64) *document.Region {
	return &document.Region{
		ID:               id,
		Page:             1,
		BBox:             document.BBox{X: 10, Y: 20, Width: 200, Height: 30},
		Label:            "field",
		RawText:          text,
		NormalizedText:   text,
		OCRConfidence:    trust,
		LinguaConfidence: trust,
		TrustScore:       trust,
	}
}

// NewResult returns a completed job with one region per trust score.
// Region ids are "<jobID>-r<i>".
func NewResult(jobID string, trusts ...float64) *document.Result {
	res := &document.Result{
		JobID:     jobID,
		Status:    document.StatusCompleted,
		Filename:  jobID + ".png",
		Pages:     1,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for i, trust := range trusts {
		id := fmt.Sprintf("%s-r%d", jobID, i)
		res.Fields = append(res.Fields, NewRegion(id, fmt.Sprintf("value %d", i), trust))
	}
	return res
}

// CalibrationSet is a labeled validation sample.
type CalibrationSet struct {
	Confidences []float64 `json:"confidences"`
	Correct     []bool    `json:"correctness"`
}

// OverconfidentSet returns confidences of 0.9 and 0.95 that are only right
// 70% of the time.
func OverconfidentSet() CalibrationSet {
	var s CalibrationSet
	for _, c := range []float64{0.9, 0.95} {
		for i := 0; i < 50; i++ {
			s.Confidences = append(s.Confidences, c)
			s.Correct = append(s.Correct, i < 35)
		}
	}
	return s
}

// CalibratedSet returns, for each bin center 0.05..0.95, twenty samples
// whose empirical accuracy equals their confidence.
func CalibratedSet() CalibrationSet {
	var s CalibrationSet
	for b := 0; b < 10; b++ {
		c := 0.05 + 0.1*float64(b)
		hits := int(c*20 + 0.5)
		for i := 0; i < 20; i++ {
			s.Confidences = append(s.Confidences, c)
			s.Correct = append(s.Correct, i < hits)
		}
	}
	return s
}

// LoadJSON decodes the JSON file at path into v.
func LoadJSON(t *testing.T, path string, v any) {
	t.Helper()

	data, err := os.ReadFile(path) //nolint:gosec // G304: test fixture with controlled path
	require.NoError(t, err, "Failed to read fixture file: %s", path)
	require.NoError(t, json.Unmarshal(data, v), "Failed to unmarshal fixture JSON")
}
