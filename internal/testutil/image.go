package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	White = color.White
	Black = color.Black
)

// ImageSize represents common region image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Typical field crops: a single word, a line and a small text block.
	WordSize  = ImageSize{120, 32}
	LineSize  = ImageSize{320, 40}
	BlockSize = ImageSize{320, 160}
)

// TestImageConfig holds configuration for generating region images.
type TestImageConfig struct {
	Text       string
	Size       ImageSize
	Background color.Color
	Foreground color.Color
	FontFace   font.Face
	Rotation   float64 // degrees
	Lines      []string
}

// DefaultTestImageConfig returns a black-on-white single line config.
func DefaultTestImageConfig() TestImageConfig {
	return TestImageConfig{
		Text:       "Sample Text",
		Size:       LineSize,
		Background: White,
		Foreground: Black,
		FontFace:   basicfont.Face7x13,
	}
}

// GenerateTextImage renders the configured text centered on the canvas.
// When Lines is set each entry is drawn on its own row.
func GenerateTextImage(config TestImageConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, config.Size.Width, config.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{config.Background}, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{config.Foreground},
		Face: config.FontFace,
	}

	lines := config.Lines
	if len(lines) == 0 {
		lines = []string{config.Text}
	}
	lineHeight := config.FontFace.Metrics().Height.Ceil()
	startY := (config.Size.Height - len(lines)*lineHeight) / 2
	for i, line := range lines {
		line = strings.TrimSpace(line)
		textWidth := font.MeasureString(config.FontFace, line).Ceil()
		x := (config.Size.Width - textWidth) / 2
		y := startY + (i+1)*lineHeight - config.FontFace.Metrics().Descent.Ceil()
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(line)
	}

	if config.Rotation != 0 {
		rotated := imaging.Rotate(img, config.Rotation, config.Background)
		rgba := image.NewRGBA(rotated.Bounds())
		draw.Draw(rgba, rgba.Bounds(), rotated, rotated.Bounds().Min, draw.Src)
		return rgba
	}
	return img
}

// CreateTestImage creates a uniformly colored image.
func CreateTestImage(width, height int, backgroundColor color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}

// CreateTestImageWithText creates a region image with text rendered on it.
func CreateTestImageWithText(text string, width, height int) image.Image {
	config := DefaultTestImageConfig()
	config.Text = text
	config.Size = ImageSize{Width: width, Height: height}
	return GenerateTextImage(config)
}

// EncodePNG returns the PNG encoding of img, for upload tests.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "Failed to encode PNG image")
	return buf.Bytes()
}

// SaveImage writes img as PNG to path, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)), "Failed to create directory for %s", path)
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600), "Failed to write %s", path)
}

// WriteTextImage renders text and saves it as dir/name, returning the path.
func WriteTextImage(t *testing.T, dir, name, text string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	SaveImage(t, CreateTestImageWithText(text, LineSize.Width, LineSize.Height), path)
	return path
}
