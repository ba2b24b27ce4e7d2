package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"pdfpress/internal/imaging"
)

// ErrBudgetExceeded is returned when the constraints cannot be met within the
// iteration budget. The accompanying image is the best candidate found.
var ErrBudgetExceeded = errors.New("size constraints not met within iteration budget")

// Constraints bound the compressor output for one conversion.
type Constraints struct {
	// MaxSizeMB is the target maximum byte size, in mebibytes. Zero disables
	// the size bound.
	MaxSizeMB float64
	// MaxWidthOrHeight bounds the larger pixel dimension. Zero disables the
	// dimension bound.
	MaxWidthOrHeight int
	// AllowBackground permits the compression loop to run off the calling
	// goroutine. Results and progress ordering are identical either way.
	AllowBackground bool
}

// MaxBytes converts MaxSizeMB to a byte count.
func (c Constraints) MaxBytes() int64 {
	return int64(c.MaxSizeMB * 1024 * 1024)
}

// ProgressFunc receives percentages in [0,100], non-decreasing, with 100
// delivered last on a successful compression.
type ProgressFunc func(percent int)

// Config tunes the compression loop. Zero fields fall back to defaults.
type Config struct {
	MaxIterations int
	StartQuality  int
	MinQuality    int
	QualityStep   int
	ShrinkFactor  float64
}

const (
	defaultMaxIterations = 16
	defaultStartQuality  = 85
	defaultMinQuality    = 30
	defaultQualityStep   = 10
	defaultShrinkFactor  = 0.85
)

// Compressor iteratively re-encodes a JPEG until it satisfies the constraints.
type Compressor struct {
	cfg Config
}

// New constructs a Compressor, filling unset Config fields with defaults.
func New(cfg Config) *Compressor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.StartQuality <= 0 {
		cfg.StartQuality = defaultStartQuality
	}
	if cfg.MinQuality <= 0 {
		cfg.MinQuality = defaultMinQuality
	}
	if cfg.QualityStep <= 0 {
		cfg.QualityStep = defaultQualityStep
	}
	if cfg.ShrinkFactor <= 0 || cfg.ShrinkFactor >= 1 {
		cfg.ShrinkFactor = defaultShrinkFactor
	}
	return &Compressor{cfg: cfg}
}

// Compress reduces the image until it fits the constraints or the iteration
// budget runs out. Already-compliant input is returned untouched. On
// ErrBudgetExceeded the returned image is the best effort found, never larger
// than the input.
func (c *Compressor) Compress(ctx context.Context, in imaging.EncodedImage, cons Constraints, onProgress ProgressFunc) (imaging.EncodedImage, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}

	if compliant(in, cons) {
		onProgress(100)
		return in, nil
	}

	if !cons.AllowBackground {
		return c.run(ctx, in, cons, onProgress)
	}

	// Background mode moves the loop off the calling goroutine; the caller
	// drains progress in order and only then observes the result, preserving
	// the delivery contract.
	type outcome struct {
		img imaging.EncodedImage
		err error
	}
	progressCh := make(chan int)
	resultCh := make(chan outcome, 1)
	go func() {
		img, err := c.run(ctx, in, cons, func(p int) { progressCh <- p })
		close(progressCh)
		resultCh <- outcome{img: img, err: err}
	}()
	for p := range progressCh {
		onProgress(p)
	}
	res := <-resultCh
	return res.img, res.err
}

func (c *Compressor) run(ctx context.Context, in imaging.EncodedImage, cons Constraints, report ProgressFunc) (imaging.EncodedImage, error) {
	surface, err := jpeg.Decode(bytes.NewReader(in.Data))
	if err != nil {
		return in, fmt.Errorf("decode jpeg for compression: %w", err)
	}

	if cons.MaxWidthOrHeight > 0 && in.MaxEdge() > cons.MaxWidthOrHeight {
		surface = imaging.Downsample(surface, cons.MaxWidthOrHeight)
	}

	best := in
	quality := c.cfg.StartQuality

	for i := 1; i <= c.cfg.MaxIterations; i++ {
		select {
		case <-ctx.Done():
			return best, ctx.Err()
		default:
		}

		candidate, err := encodeSurface(surface, quality)
		if err != nil {
			return best, err
		}
		if better(candidate, best, cons) {
			best = candidate
		}

		report(i * 100 / (c.cfg.MaxIterations + 1))

		if compliant(candidate, cons) {
			report(100)
			return candidate, nil
		}

		if quality > c.cfg.MinQuality {
			quality -= c.cfg.QualityStep
			if quality < c.cfg.MinQuality {
				quality = c.cfg.MinQuality
			}
		} else {
			surface = imaging.Shrink(surface, c.cfg.ShrinkFactor)
		}
	}

	return best, ErrBudgetExceeded
}

func encodeSurface(surface image.Image, quality int) (imaging.EncodedImage, error) {
	return imaging.EncodeJPEG(surface, float64(quality)/100)
}

func compliant(img imaging.EncodedImage, cons Constraints) bool {
	if cons.MaxSizeMB > 0 && img.Size() > cons.MaxBytes() {
		return false
	}
	if cons.MaxWidthOrHeight > 0 && img.MaxEdge() > cons.MaxWidthOrHeight {
		return false
	}
	return true
}

// better prefers dimension-compliant candidates, then smaller byte size.
func better(candidate, best imaging.EncodedImage, cons Constraints) bool {
	if cons.MaxWidthOrHeight > 0 {
		candFits := candidate.MaxEdge() <= cons.MaxWidthOrHeight
		bestFits := best.MaxEdge() <= cons.MaxWidthOrHeight
		if candFits != bestFits {
			return candFits
		}
	}
	return candidate.Size() < best.Size()
}
