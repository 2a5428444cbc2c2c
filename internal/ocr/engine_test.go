package ocr

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/trustroute/internal/testutil"
)

func TestHTTPEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NotEmpty(t, body)

		if r.URL.Query().Get("model") == "handwritten" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":       "PATIENT NAME",
			"confidence": 0.88,
			"tokens":     []map[string]any{{"text": "PATIENT", "confidence": 0.9}},
		})
	}))
	defer srv.Close()

	e, err := NewHTTPEngine(srv.URL+"/recognize", time.Second)
	require.NoError(t, err)
	img := testutil.CreateTestImageWithText("PATIENT NAME", 160, 32)

	out := e.Recognize(context.Background(), img, ModelPrinted)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, "PATIENT NAME", out.Text)
	assert.Equal(t, 0.88, out.Confidence)
	assert.Equal(t, []Token{{"PATIENT", 0.9}}, out.Tokens)

	out = e.Recognize(context.Background(), img, ModelHandwritten)
	assert.True(t, out.IsDegraded())
	assert.Contains(t, out.Reason, "503")
	assert.Zero(t, out.Confidence)

	assert.True(t, e.Recognize(context.Background(), nil, ModelPrinted).IsDegraded())
}

func TestHTTPEngine_InvalidEndpoint(t *testing.T) {
	_, err := NewHTTPEngine("ftp://models", 0)
	assert.Error(t, err)
}

func TestRateLimitedEngine(t *testing.T) {
	calls := 0
	inner := EngineFunc(func(context.Context, image.Image, ModelType) Output {
		calls++
		return OK("ok", 1, nil)
	})

	assert.IsType(t, EngineFunc(nil), NewRateLimitedEngine(inner, 0, 0))

	e := NewRateLimitedEngine(inner, 1, 1)
	assert.False(t, e.Recognize(context.Background(), nil, ModelPrinted).IsDegraded())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	out := e.Recognize(ctx, nil, ModelPrinted)
	assert.True(t, out.IsDegraded(), "second call must wait beyond the deadline")
	assert.Equal(t, 1, calls)
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(EngineConfig{Engine: "none"}, nil)
	require.NoError(t, err)
	assert.True(t, e.Recognize(context.Background(), nil, ModelPrinted).IsDegraded())

	_, err = NewEngine(EngineConfig{Engine: "paddle"}, nil)
	assert.Error(t, err)

	e, err = NewEngine(EngineConfig{Engine: "http", Endpoint: "http://localhost:9", RateLimit: 5, Burst: 2}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RateLimitedEngine{}, e)

	_, err = NewEngine(EngineConfig{Engine: "tesseract"}, nil)
	if TesseractAvailable {
		assert.NoError(t, err)
	} else {
		assert.Error(t, err)
	}
}

func TestModelType(t *testing.T) {
	assert.Equal(t, ModelHandwritten, ModelPrinted.Alternate())
	assert.Equal(t, ModelPrinted, ModelHandwritten.Alternate())
	assert.False(t, ModelType("mixed").Valid())
}
