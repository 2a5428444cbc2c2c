package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxResponseBytes = 1 << 20

// HTTPEngine calls a model server that accepts a PNG body and answers
// with {"text", "confidence", "tokens"}. The model is passed as the
// "model" query parameter.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
}

type httpResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Tokens     []Token `json:"tokens"`
}

// NewHTTPEngine creates an engine for the given endpoint. A zero timeout
// defaults to 30 seconds.
func NewHTTPEngine(endpoint string, timeout time.Duration) (*HTTPEngine, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OCR endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid OCR endpoint %q: scheme must be http or https", endpoint)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEngine{endpoint: endpoint, client: &http.Client{Timeout: timeout}}, nil
}

// Recognize implements Engine.
func (e *HTTPEngine) Recognize(ctx context.Context, img image.Image, model ModelType) Output {
	if img == nil {
		return Degraded("nil image")
	}
	var body bytes.Buffer
	if err := png.Encode(&body, img); err != nil {
		return Degraded(fmt.Sprintf("encode image: %v", err))
	}

	u, _ := url.Parse(e.endpoint)
	q := u.Query()
	q.Set("model", string(model))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return Degraded(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Degraded(fmt.Sprintf("request failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Degraded(fmt.Sprintf("model server returned %d", resp.StatusCode))
	}

	var out httpResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return Degraded(fmt.Sprintf("decode response: %v", err))
	}
	return OK(out.Text, out.Confidence, out.Tokens)
}
