//go:build tesseract

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractAvailable reports whether the Tesseract backend is linked.
const TesseractAvailable = true

// TesseractEngine runs libtesseract through gosseract. A fresh client is
// created per call since gosseract clients are not safe for concurrent use.
// Handwritten requests use single-block segmentation, printed ones
// automatic segmentation.
type TesseractEngine struct {
	languages []string
}

// NewTesseractEngine creates the engine. An empty language list uses eng.
func NewTesseractEngine(languages []string) (Engine, error) {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractEngine{languages: languages}, nil
}

// Recognize implements Engine.
func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image, model ModelType) Output {
	if img == nil {
		return Degraded("nil image")
	}
	if err := ctx.Err(); err != nil {
		return Degraded(err.Error())
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Degraded(fmt.Sprintf("encode image: %v", err))
	}

	c := gosseract.NewClient()
	defer func() { _ = c.Close() }()

	if err := c.SetLanguage(e.languages...); err != nil {
		return Degraded(fmt.Sprintf("set languages: %v", err))
	}
	mode := gosseract.PSM_AUTO
	if model == ModelHandwritten {
		mode = gosseract.PSM_SINGLE_BLOCK
	}
	if err := c.SetPageSegMode(mode); err != nil {
		return Degraded(fmt.Sprintf("set page segmentation: %v", err))
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return Degraded(fmt.Sprintf("set image: %v", err))
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return Degraded(fmt.Sprintf("recognize: %v", err))
	}
	tokens := make([]Token, 0, len(boxes))
	words := make([]string, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		w := strings.TrimSpace(b.Word)
		if w == "" {
			continue
		}
		conf := b.Confidence / 100.0
		sum += conf
		words = append(words, w)
		tokens = append(tokens, Token{Text: w, Confidence: conf})
	}
	if len(tokens) == 0 {
		return OK("", 0, nil)
	}
	return OK(strings.Join(words, " "), sum/float64(len(tokens)), tokens)
}
