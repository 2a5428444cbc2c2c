package utils

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// RegionRect converts a top-left/size box to an image.Rectangle clamped to
// bounds.
func RegionRect(x, y, width, height int, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(x, y, x+width, y+height).Add(bounds.Min)
	return r.Intersect(bounds)
}

// CropImageRect crops an image to the given rectangle.
func CropImageRect(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return imaging.New(0, 0, color.Transparent)
	}
	return imaging.Crop(img, rect)
}

// CropRegion crops the box (x, y, width, height) out of a page image. A
// zero-sized box returns the whole page.
func CropRegion(img image.Image, x, y, width, height int) image.Image {
	if width <= 0 || height <= 0 {
		return img
	}
	return CropImageRect(img, RegionRect(x, y, width, height, img.Bounds()))
}
