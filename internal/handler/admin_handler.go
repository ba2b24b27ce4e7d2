package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"pdfpress/internal/ledger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// HistoryHandler exposes conversion history to operators.
type HistoryHandler struct {
	repo   ledger.Repository
	logger *log.Logger
}

func NewHistoryHandler(repo ledger.Repository, logger *log.Logger) *HistoryHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &HistoryHandler{repo: repo, logger: logger}
}

func (h *HistoryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/conversions", h.listConversions)
}

func (h *HistoryHandler) listConversions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeJSONError(w, http.StatusBadRequest, "limit out of range")
			return
		}
		if parsed > maxHistoryLimit {
			parsed = maxHistoryLimit
		}
		limit = parsed
	}

	records, err := h.repo.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Printf("ERROR: fetch conversion history: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}

	items := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		items = append(items, map[string]interface{}{
			"id":          rec.ID,
			"filename":    rec.Filename,
			"sourceBytes": rec.SourceBytes,
			"outputBytes": rec.OutputBytes,
			"width":       rec.Width,
			"height":      rec.Height,
			"outcome":     rec.Outcome,
			"durationMs":  rec.Duration.Milliseconds(),
			"createdAt":   rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"count":       len(items),
		"conversions": items,
	})
}
