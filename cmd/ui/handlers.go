package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crypto-signal-bot-go/internal/database"
	"go.uber.org/zap"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log  *zap.Logger
	repo database.SignalRepository
	now  func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, repo database.SignalRepository) *APIHandler {
	return &APIHandler{log: log, repo: repo, now: time.Now}
}

// SignalsHandler returns the most recent signals, optionally for one coin.
func (h *APIHandler) SignalsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	f := database.Filter{
		Coin:   strings.ToUpper(r.URL.Query().Get("coin")),
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
	}
	signals, err := h.repo.Query(r.Context(), f)
	if err != nil {
		h.log.Error("Failed to get signals from database", zap.Error(err))
		http.Error(w, "Failed to get signals", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(signals)
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h *database.Statistics `json:"since_24h"`
	Since7d  *database.Statistics `json:"since_7d"`
	AllTime  *database.Statistics `json:"all_time"`
}

// StatisticsHandler returns signal outcome statistics for several periods.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	coin := strings.ToUpper(r.URL.Query().Get("coin"))
	now := h.now()

	var resp StatisticsResponse
	periods := []struct {
		since time.Time
		dst   **database.Statistics
	}{
		{now.Add(-24 * time.Hour), &resp.Since24h},
		{now.Add(-7 * 24 * time.Hour), &resp.Since7d},
		{time.Time{}, &resp.AllTime},
	}
	for _, p := range periods {
		stats, err := h.repo.Statistics(r.Context(), database.Filter{Coin: coin, Since: p.since})
		if err != nil {
			h.log.Error("Failed to get signals for statistics", zap.Error(err))
			http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
			return
		}
		*p.dst = stats
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
