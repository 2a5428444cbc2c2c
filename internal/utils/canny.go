package utils

import "math"

// tan(22.5°) and tan(67.5°) for direction quantization.
const (
	tan22 = 0.4142135623730951
	tan67 = 2.414213562373095
)

// Canny detects edges with 3x3 Sobel gradients, L1 magnitude, non-maximum
// suppression and hysteresis between low and high. The returned mask is
// row-major with the same size as g.
func Canny(g *GrayPlane, low, high float64) []bool {
	w, h := g.Width, g.Height
	edges := make([]bool, w*h)
	if w < 3 || h < 3 {
		return edges
	}
	if low > high {
		low, high = high, low
	}

	gx := make([]float64, w*h)
	gy := make([]float64, w*h)
	mag := make([]float64, w*h)

	px := func(x, y int) float64 {
		x = clampInt(x, 0, w-1)
		y = clampInt(y, 0, h-1)
		return float64(g.Pix[y*w+x])
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := (px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1)) -
				(px(x-1, y-1) + 2*px(x-1, y) + px(x-1, y+1))
			sy := (px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1)) -
				(px(x-1, y-1) + 2*px(x, y-1) + px(x+1, y-1))
			i := y*w + x
			gx[i], gy[i] = sx, sy
			mag[i] = math.Abs(sx) + math.Abs(sy)
		}
	}

	// 0 = suppressed, 1 = weak candidate, 2 = strong
	state := make([]uint8, w*h)
	var stack []int

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := math.Abs(gx[i]), math.Abs(gy[i])

			var keep bool
			switch {
			case ay < ax*tan22:
				keep = m > mag[i-1] && m >= mag[i+1]
			case ay > ax*tan67:
				keep = m > mag[i-w] && m >= mag[i+w]
			default:
				s := 1
				if (gx[i] < 0) != (gy[i] < 0) {
					s = -1
				}
				keep = m > mag[i-w-s] && m > mag[i+w+s]
			}
			if !keep {
				continue
			}
			if m > high {
				state[i] = 2
				stack = append(stack, i)
			} else {
				state[i] = 1
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if edges[i] {
			continue
		}
		edges[i] = true
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] > 0 && !edges[j] {
					stack = append(stack, j)
				}
			}
		}
	}
	return edges
}

// CountTrue returns the number of set entries in a mask.
func CountTrue(mask []bool) int {
	n := 0
	for _, v := range mask {
		if v {
			n++
		}
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
