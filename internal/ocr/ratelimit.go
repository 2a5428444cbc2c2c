package ocr

import (
	"context"
	"image"

	"golang.org/x/time/rate"
)

// RateLimitedEngine bounds the request rate to an underlying engine.
type RateLimitedEngine struct {
	next    Engine
	limiter *rate.Limiter
}

// NewRateLimitedEngine wraps next with a token bucket of rps requests per
// second. A non-positive rps returns next unchanged.
func NewRateLimitedEngine(next Engine, rps float64, burst int) Engine {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEngine{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Recognize waits for a token, then calls the wrapped engine.
func (e *RateLimitedEngine) Recognize(ctx context.Context, img image.Image, model ModelType) Output {
	if err := e.limiter.Wait(ctx); err != nil {
		return Degraded("rate limit: " + err.Error())
	}
	return e.next.Recognize(ctx, img, model)
}
