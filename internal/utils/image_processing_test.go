package utils

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squareImage draws a black square of side s at (off, off) on a white canvas.
func squareImage(size, off, s int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(off, off, off+s, off+s), &image.Uniform{color.Black}, image.Point{}, draw.Src)
	return img
}

func TestToGray(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	img.Set(1, 0, color.RGBA{255, 255, 255, 255})

	g, err := ToGray(img)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Width)
	assert.Equal(t, 1, g.Height)
	assert.Equal(t, uint8(76), g.At(0, 0))
	assert.Equal(t, uint8(255), g.At(1, 0))

	_, err = ToGray(nil)
	var ipErr *ImageProcessingError
	assert.ErrorAs(t, err, &ipErr)

	_, err = ToGray(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.Error(t, err)
}

func TestOtsuThreshold(t *testing.T) {
	g := &GrayPlane{Width: 4, Height: 2, Pix: []uint8{10, 10, 10, 10, 200, 200, 200, 200}}
	th := OtsuThreshold(g)
	assert.GreaterOrEqual(t, th, uint8(10))
	assert.Less(t, th, uint8(200))

	mask := BinarizeInverse(g, th)
	assert.Equal(t, []bool{true, true, true, true, false, false, false, false}, mask)

	uniform := &GrayPlane{Width: 2, Height: 2, Pix: []uint8{255, 255, 255, 255}}
	assert.Equal(t, 0, CountTrue(BinarizeInverse(uniform, OtsuThreshold(uniform))))
}

func TestRowProjection(t *testing.T) {
	mask := []bool{
		true, true, false,
		false, false, false,
		true, false, true,
	}
	assert.Equal(t, []int{2, 0, 2}, RowProjection(mask, 3, 3))
}

func TestDistanceTransform(t *testing.T) {
	// a vertical bar three pixels wide in a 7x5 mask
	w, h := 7, 5
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 2; x <= 4; x++ {
			mask[y*w+x] = true
		}
	}

	dist, ok := DistanceTransform(mask, w, h)
	require.True(t, ok)

	assert.InDelta(t, 1.0, dist[2*w+2], 1e-9)
	assert.InDelta(t, 2.0, dist[2*w+3], 1e-9)
	assert.InDelta(t, 1.0, dist[2*w+4], 1e-9)
	assert.Zero(t, dist[2*w+0])

	_, ok = DistanceTransform([]bool{true, true}, 2, 1)
	assert.False(t, ok)
}

func TestCanny(t *testing.T) {
	blank, err := ToGray(squareImage(32, 0, 0))
	require.NoError(t, err)
	assert.Zero(t, CountTrue(Canny(blank, 50, 150)))

	g, err := ToGray(squareImage(32, 8, 16))
	require.NoError(t, err)
	edges := Canny(g, 50, 150)

	n := CountTrue(edges)
	assert.Greater(t, n, 0)
	// edges hug the square outline, never the flat interior or background
	assert.False(t, edges[16*32+16])
	assert.False(t, edges[2*32+2])
	assert.Less(t, n, 32*32/4)
}

func TestCropRegion(t *testing.T) {
	img := squareImage(40, 10, 10)

	crop := CropRegion(img, 10, 10, 10, 10)
	assert.Equal(t, 10, crop.Bounds().Dx())
	assert.Equal(t, 10, crop.Bounds().Dy())

	assert.Equal(t, img, CropRegion(img, 0, 0, 0, 0))

	clipped := CropRegion(img, 35, 35, 20, 20)
	assert.Equal(t, 5, clipped.Bounds().Dx())
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "region.png")

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, squareImage(20, 5, 5)))
	require.NoError(t, f.Close())

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, path, meta.Path)
	assert.Positive(t, meta.SizeBytes)

	_, _, err = LoadImage(filepath.Join(dir, "notes.txt"))
	assert.Error(t, err)

	_, _, err = LoadImage("")
	assert.Error(t, err)

	assert.True(t, IsSupportedImage("scan.TIFF"))
}
