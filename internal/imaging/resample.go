package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Downsample scales the surface so its longer edge equals maxEdge, preserving
// aspect ratio. Surfaces already within the bound are returned unchanged.
func Downsample(surface image.Image, maxEdge int) image.Image {
	bounds := surface.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return surface
	}

	var dw, dh int
	if w >= h {
		dw = maxEdge
		dh = h * maxEdge / w
	} else {
		dh = maxEdge
		dw = w * maxEdge / h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), surface, bounds, draw.Over, nil)
	return dst
}

// Shrink scales the surface by the given factor in (0, 1).
func Shrink(surface image.Image, factor float64) image.Image {
	bounds := surface.Bounds()
	w := int(float64(bounds.Dx()) * factor)
	h := int(float64(bounds.Dy()) * factor)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), surface, bounds, draw.Over, nil)
	return dst
}
