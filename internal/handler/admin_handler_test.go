package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pdfpress/internal/ledger"
)

type historyRepository struct {
	records []ledger.Record
	err     error
	limit   int
}

func (r *historyRepository) Append(ctx context.Context, rec ledger.Record) (string, error) {
	return "", errors.New("not implemented")
}

func (r *historyRepository) Recent(ctx context.Context, limit int) ([]ledger.Record, error) {
	r.limit = limit
	if r.err != nil {
		return nil, r.err
	}
	return r.records, nil
}

func (r *historyRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	return len(r.records), nil
}

func (r *historyRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return 0, nil
}

func newHistoryServer(repo ledger.Repository) *http.ServeMux {
	mux := http.NewServeMux()
	NewHistoryHandler(repo, log.New(io.Discard, "", 0)).Register(mux)
	return mux
}

func TestHistoryHandler_List(t *testing.T) {
	repo := &historyRepository{records: []ledger.Record{
		{
			ID:          "abc",
			Filename:    "report.jpg",
			SourceBytes: 2048,
			OutputBytes: 512,
			Width:       1000,
			Height:      1400,
			Outcome:     ledger.OutcomeSucceeded,
			Duration:    300 * time.Millisecond,
			CreatedAt:   time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
		},
	}}

	req := httptest.NewRequest(http.MethodGet, "/admin/conversions", nil)
	rec := httptest.NewRecorder()
	newHistoryServer(repo).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if repo.limit != defaultHistoryLimit {
		t.Fatalf("expected default limit %d, got %d", defaultHistoryLimit, repo.limit)
	}

	var payload struct {
		Count       int `json:"count"`
		Conversions []struct {
			ID         string `json:"id"`
			Filename   string `json:"filename"`
			Outcome    string `json:"outcome"`
			DurationMS int64  `json:"durationMs"`
			CreatedAt  string `json:"createdAt"`
		} `json:"conversions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Count != 1 || len(payload.Conversions) != 1 {
		t.Fatalf("expected one conversion, got %+v", payload)
	}
	got := payload.Conversions[0]
	if got.ID != "abc" || got.Filename != "report.jpg" || got.Outcome != "succeeded" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.DurationMS != 300 {
		t.Fatalf("expected 300ms, got %d", got.DurationMS)
	}
	if got.CreatedAt != "2026-08-30T09:00:00Z" {
		t.Fatalf("unexpected createdAt: %s", got.CreatedAt)
	}
}

func TestHistoryHandler_LimitHandling(t *testing.T) {
	t.Run("caps limit", func(t *testing.T) {
		repo := &historyRepository{}
		req := httptest.NewRequest(http.MethodGet, "/admin/conversions?limit=9999", nil)
		rec := httptest.NewRecorder()
		newHistoryServer(repo).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if repo.limit != maxHistoryLimit {
			t.Fatalf("expected capped limit %d, got %d", maxHistoryLimit, repo.limit)
		}
	})

	t.Run("rejects invalid limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/conversions?limit=zero", nil)
		rec := httptest.NewRecorder()
		newHistoryServer(&historyRepository{}).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHistoryHandler_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/admin/conversions", nil)
	rec := httptest.NewRecorder()
	newHistoryServer(&historyRepository{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHistoryHandler_RepositoryError(t *testing.T) {
	repo := &historyRepository{err: errors.New("firestore down")}
	req := httptest.NewRequest(http.MethodGet, "/admin/conversions", nil)
	rec := httptest.NewRecorder()
	newHistoryServer(repo).ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
