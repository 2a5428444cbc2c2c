//go:build !tesseract

package ocr

import "errors"

// TesseractAvailable reports whether the Tesseract backend is linked.
const TesseractAvailable = false

var ErrNoTesseract = errors.New("ocr: tesseract backend not linked; build with -tags=tesseract")

// NewTesseractEngine fails in builds without the tesseract tag.
func NewTesseractEngine(_ []string) (Engine, error) {
	return nil, ErrNoTesseract
}
