package ocr

import (
	"context"
	"image"
)

// ModelType selects the recognition model.
type ModelType string

const (
	ModelPrinted     ModelType = "printed"
	ModelHandwritten ModelType = "handwritten"
)

// Alternate returns the other model.
func (m ModelType) Alternate() ModelType {
	if m == ModelHandwritten {
		return ModelPrinted
	}
	return ModelHandwritten
}

// Valid reports whether m names a known model.
func (m ModelType) Valid() bool {
	return m == ModelPrinted || m == ModelHandwritten
}

// Token is a recognized word with its own confidence.
type Token struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Status tags an engine Output.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// Output is the result of one engine invocation. A degraded output carries
// a reason, empty text and confidence 0.
type Output struct {
	Status     Status  `json:"status"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Tokens     []Token `json:"tokens,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// OK builds a successful output.
func OK(text string, confidence float64, tokens []Token) Output {
	return Output{Status: StatusOK, Text: text, Confidence: confidence, Tokens: tokens}
}

// Degraded builds a failed output.
func Degraded(reason string) Output {
	return Output{Status: StatusDegraded, Reason: reason}
}

// IsDegraded reports whether the engine failed.
func (o Output) IsDegraded() bool { return o.Status == StatusDegraded }

// Engine recognizes text in a region image with the given model.
// Implementations must be safe for concurrent use.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, model ModelType) Output
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, img image.Image, model ModelType) Output

// Recognize calls f.
func (f EngineFunc) Recognize(ctx context.Context, img image.Image, model ModelType) Output {
	return f(ctx, img, model)
}

// Unavailable is an engine that always degrades with the given reason.
type Unavailable struct {
	Reason string
}

// Recognize implements Engine.
func (u Unavailable) Recognize(context.Context, image.Image, ModelType) Output {
	return Degraded(u.Reason)
}
