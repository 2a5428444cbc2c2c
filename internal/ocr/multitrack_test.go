package ocr

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/trustroute/internal/testutil"
	"github.com/MeKo-Tech/trustroute/internal/texttype"
)

// modelEngine answers with a fixed output per model and records calls.
type modelEngine struct {
	mu      sync.Mutex
	outputs map[ModelType]Output
	calls   []ModelType
}

func (e *modelEngine) Recognize(_ context.Context, _ image.Image, model ModelType) Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, model)
	return e.outputs[model]
}

func classified(t texttype.Type, c float64) texttype.Result {
	return texttype.Result{Type: t, Confidence: c}
}

func TestSelectPrimary(t *testing.T) {
	m := NewMultiTrack(nil, nil, DefaultConfig(), nil)

	assert.Equal(t, ModelPrinted, m.SelectPrimary(texttype.Printed, 0.9))
	assert.Equal(t, ModelHandwritten, m.SelectPrimary(texttype.Handwritten, 0.75))
	assert.Equal(t, ModelPrinted, m.SelectPrimary(texttype.Handwritten, 0.7))
	assert.Equal(t, ModelPrinted, m.SelectPrimary(texttype.Mixed, 1.0))

	cfg := DefaultConfig()
	cfg.ModelPriority = ModelHandwritten
	m = NewMultiTrack(nil, nil, cfg, nil)
	assert.Equal(t, ModelHandwritten, m.SelectPrimary(texttype.Mixed, 0.6))

	cfg.ModelPriority = "cursive"
	m = NewMultiTrack(nil, nil, cfg, nil)
	assert.Equal(t, ModelPrinted, m.SelectPrimary(texttype.Mixed, 0.6))
}

func TestProcess_ConfidentPrimary(t *testing.T) {
	e := &modelEngine{outputs: map[ModelType]Output{
		ModelPrinted: OK("INVOICE 42", 0.93, []Token{{"INVOICE", 0.95}, {"42", 0.91}}),
	}}
	m := NewMultiTrack(e, nil, DefaultConfig(), nil)

	r, err := m.ProcessClassified(context.Background(), nil, classified(texttype.Printed, 1.0))
	require.NoError(t, err)
	assert.Equal(t, "INVOICE 42", r.Text)
	assert.Equal(t, "INVOICE 42", r.RawText)
	assert.Equal(t, 0.93, r.Confidence)
	assert.Equal(t, ModelPrinted, r.ModelUsed)
	assert.False(t, r.Switched)
	assert.Nil(t, r.FallbackConfidence)
	assert.Len(t, r.Tokens, 2)
	assert.Equal(t, []ModelType{ModelPrinted}, e.calls)
}

func TestProcess_FallbackWins(t *testing.T) {
	e := &modelEngine{outputs: map[ModelType]Output{
		ModelPrinted:     OK("Rarn Kumar", 0.55, nil),
		ModelHandwritten: OK("Ram Kumar", 0.81, nil),
	}}
	m := NewMultiTrack(e, nil, DefaultConfig(), nil)

	r, err := m.ProcessClassified(context.Background(), nil, classified(texttype.Printed, 0.7))
	require.NoError(t, err)
	assert.True(t, r.Switched)
	assert.Equal(t, ModelPrinted, r.PrimaryModel)
	assert.Equal(t, ModelHandwritten, r.ModelUsed)
	assert.Equal(t, "Ram Kumar", r.Text)
	assert.Equal(t, "Rarn Kumar", r.RawText)
	assert.Equal(t, 0.81, r.Confidence)
	assert.Equal(t, 0.55, r.PrimaryConfidence)
	require.NotNil(t, r.FallbackConfidence)
	assert.Equal(t, 0.81, *r.FallbackConfidence)
}

func TestProcess_FallbackLoses(t *testing.T) {
	e := &modelEngine{outputs: map[ModelType]Output{
		ModelHandwritten: OK("dose 5ml", 0.6, nil),
		ModelPrinted:     OK("dose 5m1", 0.6, nil),
	}}
	m := NewMultiTrack(e, nil, DefaultConfig(), nil)

	r, err := m.ProcessClassified(context.Background(), nil, classified(texttype.Handwritten, 0.9))
	require.NoError(t, err)
	assert.False(t, r.Switched, "a tie keeps the primary result")
	assert.Equal(t, ModelHandwritten, r.ModelUsed)
	assert.Equal(t, "dose 5ml", r.Text)
	require.NotNil(t, r.FallbackConfidence)
	assert.Equal(t, 0.6, *r.FallbackConfidence)
}

func TestProcess_FallbackDisabled(t *testing.T) {
	e := &modelEngine{outputs: map[ModelType]Output{ModelPrinted: OK("x", 0.1, nil)}}
	cfg := DefaultConfig()
	cfg.FallbackEnabled = false
	m := NewMultiTrack(e, nil, cfg, nil)

	r, err := m.ProcessClassified(context.Background(), nil, classified(texttype.Printed, 0.9))
	require.NoError(t, err)
	assert.Len(t, e.calls, 1)
	assert.Nil(t, r.FallbackConfidence)
}

func TestProcess_Degraded(t *testing.T) {
	e := &modelEngine{outputs: map[ModelType]Output{
		ModelPrinted:     Degraded("model server returned 503"),
		ModelHandwritten: OK("12/03/2024", 2.5, nil),
	}}
	m := NewMultiTrack(e, nil, DefaultConfig(), nil)

	r, err := m.ProcessClassified(context.Background(), nil, classified(texttype.Printed, 0.9))
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.PrimaryConfidence)
	assert.Equal(t, []string{"printed: model server returned 503"}, r.Degraded)
	assert.True(t, r.Switched)
	assert.Equal(t, 1.0, r.Confidence, "out of range confidences are clamped")

	m = NewMultiTrack(Unavailable{Reason: "offline"}, nil, DefaultConfig(), nil)
	r, err = m.ProcessClassified(context.Background(), nil, classified(texttype.Printed, 0.9))
	require.NoError(t, err)
	assert.Zero(t, r.Confidence)
	assert.Empty(t, r.Text)
	assert.Len(t, r.Degraded, 2)
	assert.False(t, r.Switched)
}

func TestProcess_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := EngineFunc(func(context.Context, image.Image, ModelType) Output {
		cancel()
		return Degraded("context canceled")
	})
	m := NewMultiTrack(e, nil, DefaultConfig(), nil)

	_, err := m.ProcessClassified(ctx, nil, classified(texttype.Printed, 0.9))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcess_ClassifiesImage(t *testing.T) {
	var seen ModelType
	e := EngineFunc(func(_ context.Context, img image.Image, model ModelType) Output {
		seen = model
		return OK("TOTAL 1500", 0.9, nil)
	})
	m := NewMultiTrack(e, texttype.New(texttype.DefaultConfig(), nil), DefaultConfig(), nil)

	r, err := m.Process(context.Background(), testutil.CreateTestImageWithText("TOTAL 1500", 160, 32))
	require.NoError(t, err)
	assert.Contains(t, []texttype.Type{texttype.Printed, texttype.Handwritten, texttype.Mixed}, r.TextType)
	assert.Equal(t, seen, r.ModelUsed)
	assert.GreaterOrEqual(t, r.ProcessingTimeMs, 0.0)
}
