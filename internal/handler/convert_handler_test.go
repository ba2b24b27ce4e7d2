package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pdfpress/internal/compress"
	"pdfpress/internal/imaging"
	"pdfpress/internal/ledger"
	"pdfpress/internal/pdf"
	"pdfpress/internal/pipeline"
)

func minimalPDF() []byte {
	return []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")
}

type stubConverter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubConverter) Run(ctx context.Context, doc pipeline.SourceDocument) (pipeline.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if doc.MediaType != "application/pdf" {
		return pipeline.Result{}, pipeline.ErrUnsupportedMediaType
	}
	if s.err != nil {
		return pipeline.Result{}, s.err
	}
	return pipeline.Result{
		Image:    imaging.EncodedImage{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Width: 10, Height: 10},
		Filename: pipeline.OutputFilename(doc.Name),
	}, nil
}

func (s *stubConverter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubRepository struct {
	appended chan ledger.Record
}

func (s *stubRepository) Append(ctx context.Context, rec ledger.Record) (string, error) {
	s.appended <- rec
	return "doc-1", nil
}

func (s *stubRepository) Recent(ctx context.Context, limit int) ([]ledger.Record, error) {
	return nil, nil
}

func (s *stubRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	return 0, nil
}

func (s *stubRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return 0, nil
}

func createMultipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(uploadField, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func sendConvert(t *testing.T, h http.Handler, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertJSONError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != message {
		t.Fatalf("expected error %q, got %q", message, payload["error"])
	}
}

func TestConvertHandler(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	t.Run("success", func(t *testing.T) {
		h := NewConvertHandler(ConvertConfig{Converter: &stubConverter{}, Logger: logger})
		body, contentType := createMultipartBody(t, "sample.pdf", minimalPDF())
		rec := sendConvert(t, h, body, contentType)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("Content-Type") != "image/jpeg" {
			t.Fatalf("expected image/jpeg, got %s", rec.Header().Get("Content-Type"))
		}
		if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="sample.jpg"` {
			t.Fatalf("unexpected disposition: %s", got)
		}
		data := rec.Body.Bytes()
		if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
			t.Fatalf("expected jpeg magic, got % x", data[:2])
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		h := NewConvertHandler(ConvertConfig{Converter: &stubConverter{}, Logger: logger})
		req := httptest.NewRequest(http.MethodGet, "/convert", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assertJSONError(t, rec, http.StatusMethodNotAllowed, "method not allowed")
	})

	t.Run("missing file field", func(t *testing.T) {
		h := NewConvertHandler(ConvertConfig{Converter: &stubConverter{}, Logger: logger})
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		if err := writer.Close(); err != nil {
			t.Fatalf("close writer: %v", err)
		}
		rec := sendConvert(t, h, body, writer.FormDataContentType())
		assertJSONError(t, rec, http.StatusBadRequest, "file field is required")
	})

	t.Run("non pdf content rejected", func(t *testing.T) {
		conv := &stubConverter{}
		h := NewConvertHandler(ConvertConfig{Converter: conv, Logger: logger})
		body, contentType := createMultipartBody(t, "notes.txt", []byte("just some text"))
		rec := sendConvert(t, h, body, contentType)
		assertJSONError(t, rec, http.StatusBadRequest, "file must be a pdf")
	})

	t.Run("file too large", func(t *testing.T) {
		h := NewConvertHandler(ConvertConfig{Converter: &stubConverter{}, Logger: logger, MaxFileSize: 128})
		body, contentType := createMultipartBody(t, "big.pdf", bytes.Repeat([]byte{0x41}, 4096))
		rec := sendConvert(t, h, body, contentType)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413, got %d", rec.Code)
		}
	})

	t.Run("invalid pdf", func(t *testing.T) {
		h := NewConvertHandler(ConvertConfig{Converter: &stubConverter{err: pdf.ErrInvalidDocument}, Logger: logger})
		body, contentType := createMultipartBody(t, "broken.pdf", minimalPDF())
		rec := sendConvert(t, h, body, contentType)
		assertJSONError(t, rec, http.StatusBadRequest, "invalid pdf document")
	})

	t.Run("conversion in flight", func(t *testing.T) {
		h := NewConvertHandler(ConvertConfig{Converter: &stubConverter{err: pipeline.ErrConversionInFlight}, Logger: logger})
		body, contentType := createMultipartBody(t, "busy.pdf", minimalPDF())
		rec := sendConvert(t, h, body, contentType)
		assertJSONError(t, rec, http.StatusConflict, "conversion already in progress")
	})

	t.Run("budget exceeded under strict policy", func(t *testing.T) {
		h := NewConvertHandler(ConvertConfig{Converter: &stubConverter{err: compress.ErrBudgetExceeded}, Logger: logger})
		body, contentType := createMultipartBody(t, "huge.pdf", minimalPDF())
		rec := sendConvert(t, h, body, contentType)
		assertJSONError(t, rec, http.StatusUnprocessableEntity, "could not compress below size limit")
	})
}

func TestConvertHandler_ResultCache(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	conv := &stubConverter{}
	h := NewConvertHandler(ConvertConfig{Converter: conv, Logger: logger, CacheResults: true})

	for i := 0; i < 2; i++ {
		body, contentType := createMultipartBody(t, "sample.pdf", minimalPDF())
		rec := sendConvert(t, h, body, contentType)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
		if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="sample.jpg"` {
			t.Fatalf("request %d: unexpected disposition %s", i, got)
		}
	}

	if calls := conv.callCount(); calls != 1 {
		t.Fatalf("expected single pipeline run with cache enabled, got %d", calls)
	}
}

func TestConvertHandler_LedgerRecords(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	repo := &stubRepository{appended: make(chan ledger.Record, 1)}
	h := NewConvertHandler(ConvertConfig{Converter: &stubConverter{}, Logger: logger, Ledger: repo})

	body, contentType := createMultipartBody(t, "sample.pdf", minimalPDF())
	rec := sendConvert(t, h, body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case record := <-repo.appended:
		if record.Outcome != ledger.OutcomeSucceeded {
			t.Fatalf("expected succeeded outcome, got %s", record.Outcome)
		}
		if record.Filename != "sample.jpg" {
			t.Fatalf("expected sample.jpg, got %s", record.Filename)
		}
		if record.OutputBytes == 0 || record.SourceBytes == 0 {
			t.Fatalf("expected byte counts, got %+v", record)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ledger record")
	}
}

func TestConvertHandler_RejectedSelectionNotRecorded(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	repo := &stubRepository{appended: make(chan ledger.Record, 1)}
	h := NewConvertHandler(ConvertConfig{Converter: &stubConverter{}, Logger: logger, Ledger: repo})

	body, contentType := createMultipartBody(t, "notes.txt", []byte("plain text content"))
	rec := sendConvert(t, h, body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	select {
	case record := <-repo.appended:
		t.Fatalf("rejected selection must not reach the ledger, got %+v", record)
	case <-time.After(100 * time.Millisecond):
	}
}
