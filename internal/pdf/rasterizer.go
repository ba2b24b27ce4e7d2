package pdf

import (
	"context"
	"errors"
	"fmt"
	"image"

	fitz "github.com/gen2brain/go-fitz"
)

var (
	// ErrInvalidDocument is returned when the supplied bytes are not a parseable PDF.
	ErrInvalidDocument = errors.New("invalid pdf document")
	// ErrPageNotFound is returned when the requested page does not exist in the document.
	ErrPageNotFound = errors.New("pdf page not found")
	// ErrRenderSurface is returned when the engine cannot produce a pixel surface for the page.
	ErrRenderSurface = errors.New("render surface unavailable")
)

// baseDPI is the PDF point resolution; a scale of 1.0 renders one pixel per point.
const baseDPI = 72.0

// Document is the subset of the go-fitz document API the rasterizer needs.
type Document interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (image.Image, error)
	Close() error
}

// Opener turns raw PDF bytes into a renderable Document.
type Opener func(data []byte) (Document, error)

// FitzOpener is the production Opener backed by MuPDF.
func FitzOpener(data []byte) (Document, error) {
	return fitz.NewFromMemory(data)
}

// Rasterizer renders PDF pages into pixel surfaces through an injected engine.
type Rasterizer struct {
	open Opener
}

// NewRasterizer constructs a Rasterizer. A nil opener defaults to the MuPDF engine.
func NewRasterizer(open Opener) *Rasterizer {
	if open == nil {
		open = FitzOpener
	}
	return &Rasterizer{open: open}
}

// Render decodes data and rasterizes the 1-based pageNumber at the given
// magnification. Scale 1.0 yields one pixel per PDF point.
func (r *Rasterizer) Render(ctx context.Context, data []byte, pageNumber int, scale float64) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if pageNumber < 1 {
		return nil, fmt.Errorf("%w: page %d", ErrPageNotFound, pageNumber)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("invalid scale %v", scale)
	}

	doc, err := r.open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	defer doc.Close()

	if pageNumber > doc.NumPage() {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageNotFound, pageNumber, doc.NumPage())
	}

	surface, err := doc.ImageDPI(pageNumber-1, baseDPI*scale)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderSurface, err)
	}

	bounds := surface.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty surface %dx%d", ErrRenderSurface, bounds.Dx(), bounds.Dy())
	}

	return surface, nil
}
