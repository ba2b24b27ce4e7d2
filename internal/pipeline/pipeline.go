package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"

	"pdfpress/internal/compress"
	"pdfpress/internal/imaging"
)

// Phase is the lifecycle state of a Pipeline.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

var (
	// ErrUnsupportedMediaType is returned when the source is not a PDF. The
	// document is rejected at the boundary and the pipeline state is untouched.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrConversionInFlight is returned when Run is called while a conversion
	// is already running. The in-flight conversion is not disturbed.
	ErrConversionInFlight = errors.New("conversion already in flight")
)

// pdfMediaType is the only media type admitted into the pipeline.
const pdfMediaType = "application/pdf"

// SourceDocument is an uploaded PDF as received from the host boundary.
type SourceDocument struct {
	Name      string
	MediaType string
	Data      []byte
}

// Result carries the converted image and the download filename. BestEffort
// marks a result that exceeded the compression budget but was surfaced under
// the best-effort policy.
type Result struct {
	Image      imaging.EncodedImage
	Filename   string
	BestEffort bool
}

// Rasterizer renders one PDF page into a pixel surface.
type Rasterizer interface {
	Render(ctx context.Context, data []byte, pageNumber int, scale float64) (image.Image, error)
}

// Compressor reduces an encoded image to fit the constraints.
type Compressor interface {
	Compress(ctx context.Context, in imaging.EncodedImage, cons compress.Constraints, onProgress compress.ProgressFunc) (imaging.EncodedImage, error)
}

// Config tunes one Pipeline. Zero fields fall back to defaults.
type Config struct {
	// Scale is the page magnification applied during rasterization.
	Scale float64
	// EncodeQuality is the quality factor for the initial encode.
	EncodeQuality float64
	// Constraints bound the compression stage.
	Constraints compress.Constraints
	// BestEffort surfaces an oversized result as success when the compressor
	// exhausts its budget; when false the conversion fails instead.
	BestEffort bool
	// OnProgress observes integer percentages in [0,100]. Calls are
	// non-decreasing within one conversion and always precede the terminal
	// state change.
	OnProgress func(percent int)
}

const (
	defaultScale         = 2.0
	defaultEncodeQuality = imaging.DefaultQuality
	firstPage            = 1
)

// Status is a point-in-time observation of the pipeline.
type Status struct {
	Phase    Phase
	Progress int
}

// Pipeline drives rasterize, encode, and compress in sequence for one
// document at a time. A single conversion is in flight per instance; the
// pipeline re-arms after reaching a terminal phase.
type Pipeline struct {
	rasterizer Rasterizer
	compressor Compressor
	cfg        Config

	mu       sync.Mutex
	phase    Phase
	progress int
}

// New constructs a Pipeline in the idle phase.
func New(rasterizer Rasterizer, compressor Compressor, cfg Config) *Pipeline {
	if cfg.Scale <= 0 {
		cfg.Scale = defaultScale
	}
	if cfg.EncodeQuality <= 0 {
		cfg.EncodeQuality = defaultEncodeQuality
	}
	return &Pipeline{
		rasterizer: rasterizer,
		compressor: compressor,
		cfg:        cfg,
		phase:      PhaseIdle,
	}
}

// Status reports the current phase and progress.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{Phase: p.phase, Progress: p.progress}
}

// Run converts the first page of doc into a compressed JPEG. Non-PDF
// documents are rejected without entering the running phase. A second Run
// while one is in flight is rejected with ErrConversionInFlight.
func (p *Pipeline) Run(ctx context.Context, doc SourceDocument) (Result, error) {
	if doc.MediaType != pdfMediaType {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, doc.MediaType)
	}

	p.mu.Lock()
	if p.phase == PhaseRunning {
		p.mu.Unlock()
		return Result{}, ErrConversionInFlight
	}
	p.phase = PhaseRunning
	p.progress = 0
	p.mu.Unlock()

	surface, err := p.rasterizer.Render(ctx, doc.Data, firstPage, p.cfg.Scale)
	if err != nil {
		return Result{}, p.fail(err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, p.fail(err)
	}

	encoded, err := imaging.EncodeJPEG(surface, p.cfg.EncodeQuality)
	if err != nil {
		return Result{}, p.fail(err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, p.fail(err)
	}

	bestEffort := false
	out, err := p.compressor.Compress(ctx, encoded, p.cfg.Constraints, p.observeProgress)
	if err != nil {
		if !errors.Is(err, compress.ErrBudgetExceeded) || !p.cfg.BestEffort {
			return Result{}, p.fail(err)
		}
		// Best-effort policy: deliver the oversized result as a success.
		bestEffort = true
		p.observeProgress(100)
	}

	p.mu.Lock()
	p.phase = PhaseSucceeded
	p.progress = 100
	p.mu.Unlock()

	return Result{Image: out, Filename: OutputFilename(doc.Name), BestEffort: bestEffort}, nil
}

func (p *Pipeline) fail(err error) error {
	p.mu.Lock()
	p.phase = PhaseFailed
	p.progress = 0
	p.mu.Unlock()
	return err
}

// observeProgress enforces monotonic delivery regardless of the compressor's
// reporting cadence.
func (p *Pipeline) observeProgress(percent int) {
	p.mu.Lock()
	if percent < p.progress || p.phase != PhaseRunning {
		p.mu.Unlock()
		return
	}
	p.progress = percent
	observer := p.cfg.OnProgress
	p.mu.Unlock()

	if observer != nil {
		observer(percent)
	}
}

// OutputFilename derives the download name from the source name: any
// extension is stripped and ".jpg" appended, so "report.pdf" becomes
// "report.jpg" and an extensionless "scan" becomes "scan.jpg".
func OutputFilename(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "converted"
	}
	return base + ".jpg"
}
