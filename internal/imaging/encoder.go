package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
)

var (
	// ErrEmptySurface is returned when the surface has no pixels to encode.
	ErrEmptySurface = errors.New("empty render surface")
)

// DefaultQuality is the quality factor used for the initial full-fidelity encode.
const DefaultQuality = 0.95

// MIMEType is the media type of every EncodedImage.
const MIMEType = "image/jpeg"

// EncodedImage is a JPEG byte stream together with its pixel dimensions.
type EncodedImage struct {
	Data   []byte
	Width  int
	Height int
}

// Size returns the byte length of the encoded stream.
func (e EncodedImage) Size() int64 {
	return int64(len(e.Data))
}

// MaxEdge returns the larger of the two pixel dimensions.
func (e EncodedImage) MaxEdge() int {
	if e.Width > e.Height {
		return e.Width
	}
	return e.Height
}

// EncodeJPEG serializes the surface as JPEG. Quality is a factor in (0, 1]
// mapped onto the encoder's 1..100 range.
func EncodeJPEG(surface image.Image, quality float64) (EncodedImage, error) {
	if surface == nil {
		return EncodedImage{}, ErrEmptySurface
	}
	bounds := surface.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return EncodedImage{}, fmt.Errorf("%w: %dx%d", ErrEmptySurface, bounds.Dx(), bounds.Dy())
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, surface, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return EncodedImage{}, fmt.Errorf("encode jpeg: %w", err)
	}

	return EncodedImage{
		Data:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

func clampQuality(quality float64) int {
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return q
}
