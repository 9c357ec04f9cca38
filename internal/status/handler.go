// internal/status/handler.go
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/signalnine/trapsender/internal/history"
)

const (
	defaultResultsLimit = 50
	maxResultsLimit     = 1000
)

// ResultsHandler serves GET /results from the exchange history
type ResultsHandler struct {
	db     *history.DB
	apiKey string
	logger *slog.Logger
}

// NewResultsHandler creates a results handler. An empty apiKey disables auth.
func NewResultsHandler(db *history.DB, apiKey string, logger *slog.Logger) *ResultsHandler {
	return &ResultsHandler{db: db, apiKey: apiKey, logger: logger}
}

type resultsBody struct {
	Totals    map[string]int   `json:"totals"`
	Exchanges []history.Record `json:"exchanges"`
}

func (h *ResultsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.apiKey != "" {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	if h.db == nil {
		http.Error(w, "History disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultResultsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxResultsLimit)
	}

	var (
		records []history.Record
		err     error
	)
	if failedOnly, _ := strconv.ParseBool(r.URL.Query().Get("failed")); failedOnly {
		records, err = h.db.Failed(r.Context(), limit)
	} else {
		records, err = h.db.Recent(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("history query failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	totals, err := h.db.Totals(r.Context())
	if err != nil {
		h.logger.Error("history totals failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []history.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resultsBody{Totals: totals, Exchanges: records})
}
