package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"pdfpress/internal/compress"
	"pdfpress/internal/delivery"
	"pdfpress/internal/ledger"
	"pdfpress/internal/pdf"
	"pdfpress/internal/pipeline"
	"pdfpress/internal/util"
)

const (
	uploadField      = "file"
	ledgerTimeout    = 5 * time.Second
	defaultCacheTTL  = 10 * time.Minute
	defaultMaxUpload = 10 * 1024 * 1024
)

// Converter runs one PDF to JPEG conversion.
type Converter interface {
	Run(ctx context.Context, doc pipeline.SourceDocument) (pipeline.Result, error)
}

// ConvertConfig wires a ConvertHandler.
type ConvertConfig struct {
	Converter   Converter
	Logger      *log.Logger
	MaxFileSize int64
	// CacheResults enables the content-hash result cache.
	CacheResults bool
	// Ledger records conversion history when non-nil.
	Ledger ledger.Repository
}

// ConvertHandler handles POST /convert requests.
type ConvertHandler struct {
	converter   Converter
	logger      *log.Logger
	maxFileSize int64
	cache       *resultCache
	ledger      ledger.Repository
	metrics     metricsRecorder
}

// NewConvertHandler returns a configured ConvertHandler.
func NewConvertHandler(cfg ConvertConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	maxFileSize := cfg.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxUpload
	}
	var cache *resultCache
	if cfg.CacheResults {
		cache = newResultCache(defaultCacheTTL)
	}
	return &ConvertHandler{
		converter:   cfg.Converter,
		logger:      logger,
		maxFileSize: maxFileSize,
		cache:       cache,
		ledger:      cfg.Ledger,
		metrics:     newExpvarMetrics(),
	}
}

func (h *ConvertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)

	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		h.handleMultipartError(w, err)
		return
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		h.logger.Printf("WARN: missing file field: %v", err)
		writeJSONError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > 0 && header.Size > h.maxFileSize {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	data, mediaType, err := util.ReadUpload(file)
	if err != nil {
		h.logger.Printf("ERROR: reading uploaded file: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to process file")
		return
	}

	if h.cache != nil {
		key := cacheKey(data)
		if entry, ok := h.cache.Get(key, time.Now()); ok {
			h.metrics.IncCacheHit()
			h.respond(r.Context(), w, entry.data, entry.filename)
			return
		}
	}

	doc := pipeline.SourceDocument{
		Name:      header.Filename,
		MediaType: mediaType,
		Data:      data,
	}

	start := time.Now()
	res, err := h.converter.Run(r.Context(), doc)
	elapsed := time.Since(start)
	if err != nil {
		// Rejected selections and busy rejections never entered the pipeline
		// and are not part of conversion history.
		if !errors.Is(err, pipeline.ErrUnsupportedMediaType) && !errors.Is(err, pipeline.ErrConversionInFlight) {
			h.recordConversion(ledger.Record{
				Filename:    header.Filename,
				SourceBytes: int64(len(data)),
				Outcome:     ledger.OutcomeFailed,
				Duration:    elapsed,
				CreatedAt:   time.Now().UTC(),
			})
			h.metrics.IncConversion(ledger.OutcomeFailed)
		}
		h.handleConversionError(w, err)
		return
	}

	outcome := ledger.OutcomeSucceeded
	if res.BestEffort {
		outcome = ledger.OutcomeBestEffort
	}
	h.recordConversion(ledger.Record{
		Filename:    res.Filename,
		SourceBytes: int64(len(data)),
		OutputBytes: res.Image.Size(),
		Width:       res.Image.Width,
		Height:      res.Image.Height,
		Outcome:     outcome,
		Duration:    elapsed,
		CreatedAt:   time.Now().UTC(),
	})
	h.metrics.IncConversion(outcome)
	h.metrics.AddBytesSaved(int64(len(data)) - res.Image.Size())

	if h.cache != nil {
		h.cache.Set(cacheKey(data), res.Image.Data, res.Filename, time.Now())
	}

	h.respond(r.Context(), w, res.Image.Data, res.Filename)
}

func (h *ConvertHandler) respond(ctx context.Context, w http.ResponseWriter, data []byte, filename string) {
	if err := delivery.NewHTTPResponse(w).Save(ctx, data, filename); err != nil {
		h.logger.Printf("ERROR: sending jpeg response: %v", err)
	}
}

// recordConversion writes history on a detached context so a canceled request
// cannot lose the record.
func (h *ConvertHandler) recordConversion(rec ledger.Record) {
	if h.ledger == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		defer cancel()
		if _, err := h.ledger.Append(ctx, rec); err != nil {
			h.logger.Printf("ERROR: recording conversion: %v", err)
		}
	}()
}

func (h *ConvertHandler) handleMultipartError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	if errors.Is(err, multipart.ErrMessageTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	h.logger.Printf("WARN: multipart parse error: %v", err)
	writeJSONError(w, http.StatusBadRequest, "invalid multipart form data")
}

func (h *ConvertHandler) handleConversionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedMediaType):
		writeJSONError(w, http.StatusBadRequest, "file must be a pdf")
	case errors.Is(err, pdf.ErrInvalidDocument):
		writeJSONError(w, http.StatusBadRequest, "invalid pdf document")
	case errors.Is(err, pdf.ErrPageNotFound):
		writeJSONError(w, http.StatusBadRequest, "pdf has no pages")
	case errors.Is(err, pipeline.ErrConversionInFlight):
		writeJSONError(w, http.StatusConflict, "conversion already in progress")
	case errors.Is(err, compress.ErrBudgetExceeded):
		writeJSONError(w, http.StatusUnprocessableEntity, "could not compress below size limit")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusRequestTimeout, "request canceled")
	default:
		h.logger.Printf("ERROR: convert pdf: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to convert pdf")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
