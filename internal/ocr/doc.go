// Package ocr selects and runs OCR models for a region.
//
// Engines are opaque services behind the Engine interface: an HTTP model
// server, Tesseract (build tag `tesseract`, needs libtesseract via cgo) or
// any EngineFunc. Engine failures never surface as errors; they come back
// as Degraded outputs with confidence 0 so that scoring routes the region
// to stricter review.
//
// Example:
//
//	go build -tags=tesseract ./...
package ocr
