package utils

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// GrayPlane is an 8-bit single channel image stored row-major.
type GrayPlane struct {
	Width  int
	Height int
	Pix    []uint8
}

// At returns the value at (x, y).
func (g *GrayPlane) At(x, y int) uint8 { return g.Pix[y*g.Width+x] }

// ToGray converts an image to luma using the ITU-R 601 weights.
func ToGray(img image.Image) (*GrayPlane, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "grayscale", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, &ImageProcessingError{Operation: "grayscale", Err: errors.New("empty image")}
	}

	gray := imaging.Grayscale(img)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	plane := &GrayPlane{Width: w, Height: h, Pix: make([]uint8, w*h)}
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			plane.Pix[y*w+x] = row[x*4]
		}
	}
	return plane, nil
}

// OtsuThreshold returns the threshold that maximizes the between-class
// variance of the histogram.
func OtsuThreshold(g *GrayPlane) uint8 {
	var hist [256]int
	for _, v := range g.Pix {
		hist[v]++
	}
	total := float64(len(g.Pix))

	sum := 0.0
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var sumB, wB, maxVar float64
	best := 0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			best = t
		}
	}
	return uint8(best)
}

// BinarizeInverse marks pixels at or below the threshold (ink) with true.
func BinarizeInverse(g *GrayPlane, threshold uint8) []bool {
	out := make([]bool, len(g.Pix))
	for i, v := range g.Pix {
		out[i] = v <= threshold
	}
	return out
}

// RowProjection counts foreground pixels per row.
func RowProjection(mask []bool, width, height int) []int {
	proj := make([]int, height)
	for y := 0; y < height; y++ {
		n := 0
		for _, v := range mask[y*width : (y+1)*width] {
			if v {
				n++
			}
		}
		proj[y] = n
	}
	return proj
}

// DistanceTransform returns, for every foreground pixel, the Euclidean
// distance to the nearest background pixel (0 for background). ok is false
// when the mask has no background at all.
func DistanceTransform(mask []bool, width, height int) (dist []float64, ok bool) {
	const inf = 1e20

	f := make([]float64, width*height)
	hasBackground := false
	for i, v := range mask {
		if v {
			f[i] = inf
		} else {
			hasBackground = true
		}
	}
	if !hasBackground {
		return make([]float64, width*height), false
	}

	n := max(width, height)
	col := make([]float64, n)
	d := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			col[y] = f[y*width+x]
		}
		squaredDistance1D(col[:height], d[:height], v, z)
		for y := 0; y < height; y++ {
			f[y*width+x] = d[y]
		}
	}
	for y := 0; y < height; y++ {
		row := f[y*width : (y+1)*width]
		copy(col, row)
		squaredDistance1D(col[:width], d[:width], v, z)
		copy(row, d[:width])
	}

	for i := range f {
		f[i] = math.Sqrt(f[i])
	}
	return f, true
}

// squaredDistance1D is the lower envelope of parabolas pass of the
// Felzenszwalb-Huttenlocher transform.
func squaredDistance1D(f, d []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)
	for q := 1; q < n; q++ {
		fq := f[q] + float64(q*q)
		s := (fq - (f[v[k]] + float64(v[k]*v[k]))) / float64(2*q-2*v[k])
		for s <= z[k] {
			k--
			s = (fq - (f[v[k]] + float64(v[k]*v[k]))) / float64(2*q-2*v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}
	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}
