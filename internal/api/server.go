// Package api serves the read-only status endpoints of the bot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crypto-signal-bot-go/internal/coinmarketcap"
	"crypto-signal-bot-go/internal/config"
	"crypto-signal-bot-go/internal/database"
	"crypto-signal-bot-go/internal/history"
	"crypto-signal-bot-go/internal/scheduler"
	"crypto-signal-bot-go/internal/threshold"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// TaskStatus is the view of the scheduler the server needs.
type TaskStatus interface {
	Running() []string
	Status() []scheduler.FetchStatus
}

// Deps are the collaborators behind the endpoints. History and Gatherer
// may be nil; their endpoints then answer 404.
type Deps struct {
	Repo     database.SignalRepository
	Tasks    TaskStatus
	Client   coinmarketcap.RestClientInterface
	Source   *config.Source
	History  *history.Store
	Gatherer prometheus.Gatherer
}

// APIServer provides an HTTP interface for the signal bot.
type APIServer struct {
	server    *http.Server
	deps      Deps
	logger    *zap.Logger
	startTime time.Time
}

// NewAPIServer creates a new APIServer listening on port.
func NewAPIServer(port int, deps Deps, logger *zap.Logger) *APIServer {
	s := &APIServer{
		deps:      deps,
		logger:    logger.Named("api-server"),
		startTime: time.Now(),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed endpoints.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/status", s.statusHandler)
	mux.HandleFunc("GET /api/signals", s.signalsHandler)
	mux.HandleFunc("GET /api/signals/{id}", s.signalHandler)
	mux.HandleFunc("GET /api/statistics", s.statisticsHandler)
	mux.HandleFunc("GET /api/fetch-status", s.fetchStatusHandler)
	mux.HandleFunc("GET /api/threshold-preview", s.thresholdPreviewHandler)
	mux.HandleFunc("GET /api/listings", s.listingsHandler)
	if s.deps.History != nil {
		mux.HandleFunc("GET /api/price-stats", s.priceStatsHandler)
	}
	if s.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		StartTime string   `json:"start_time"`
		Uptime    string   `json:"uptime"`
		Running   []string `json:"running"`
		Symbols   int      `json:"symbols"`
	}{
		StartTime: s.startTime.Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Truncate(time.Second).String(),
		Running:   s.deps.Tasks.Running(),
		Symbols:   len(s.deps.Source.Symbols()),
	}
	s.writeJSON(w, status)
}

func (s *APIServer) signalsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f.Limit == 0 {
		f.Limit = defaultLimit
	}
	recs, err := s.deps.Repo.Query(r.Context(), f)
	if err != nil {
		s.logger.Error("Failed to query signals", zap.Error(err))
		http.Error(w, "Failed to get signals", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, recs)
}

func (s *APIServer) signalHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Repo.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "signal not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to get signal", zap.Error(err))
		http.Error(w, "Failed to get signal", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rec)
}

func (s *APIServer) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := s.deps.Repo.Statistics(r.Context(), f)
	if err != nil {
		s.logger.Error("Failed to calculate statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, stats)
}

func (s *APIServer) fetchStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.deps.Tasks.Status())
}

// thresholdPreviewHandler shows the dynamic threshold a coin would get right
// now next to its configured one.
func (s *APIServer) thresholdPreviewHandler(w http.ResponseWriter, r *http.Request) {
	coin := strings.ToUpper(r.URL.Query().Get("coin"))
	if coin == "" {
		http.Error(w, "coin is required", http.StatusBadRequest)
		return
	}
	sc, configured := s.deps.Source.Symbol(coin)
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = sc.Timeframe
	}
	if timeframe == "" {
		timeframe = s.deps.Source.Defaults().Timeframe
	}

	q, err := s.deps.Client.GetQuote(r.Context(), coin)
	if err != nil {
		var fe *coinmarketcap.FeatureExtractionError
		if errors.As(err, &fe) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Warn("Failed to fetch quote for preview", zap.String("symbol", coin), zap.Error(err))
		http.Error(w, "Failed to fetch quote", http.StatusBadGateway)
		return
	}

	resp := struct {
		threshold.Preview
		Price           float64  `json:"price"`
		Configured      bool     `json:"configured"`
		Mode            string   `json:"mode,omitempty"`
		ActiveThreshold *float64 `json:"active_threshold,omitempty"`
	}{
		Preview:    threshold.NewPreview(coin, timeframe, q.Features),
		Price:      q.Price,
		Configured: configured,
	}
	if configured {
		active := threshold.Resolve(q.Features, sc.ThresholdMode, sc.Threshold, timeframe)
		resp.Mode = sc.ThresholdMode
		resp.ActiveThreshold = &active
	}
	s.writeJSON(w, resp)
}

// listingsHandler returns the top coins by market cap.
func (s *APIServer) listingsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil || limit <= 0 {
		http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	quotes, err := s.deps.Client.GetListings(r.Context(), min(limit, maxLimit))
	if err != nil {
		s.logger.Warn("Failed to fetch listings", zap.Error(err))
		http.Error(w, "Failed to fetch listings", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, quotes)
}

func (s *APIServer) priceStatsHandler(w http.ResponseWriter, r *http.Request) {
	coin := strings.ToUpper(r.URL.Query().Get("coin"))
	if coin == "" {
		http.Error(w, "coin is required", http.StatusBadRequest)
		return
	}
	hours, err := intParam(r, "hours", 24)
	if err != nil || hours <= 0 {
		http.Error(w, "hours must be a positive integer", http.StatusBadRequest)
		return
	}
	st, err := s.deps.History.Statistics(r.Context(), coin, time.Duration(hours)*time.Hour)
	if err != nil {
		s.logger.Error("Failed to calculate price statistics", zap.String("symbol", coin), zap.Error(err))
		http.Error(w, "Failed to calculate price statistics", http.StatusInternalServerError)
		return
	}
	if st == nil {
		http.Error(w, "no price data", http.StatusNotFound)
		return
	}
	s.writeJSON(w, st)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

// filterFrom reads coin, status, limit and days query parameters.
func filterFrom(r *http.Request) (database.Filter, error) {
	q := r.URL.Query()
	f := database.Filter{
		Coin:   strings.ToUpper(q.Get("coin")),
		Status: q.Get("status"),
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil || limit < 0 {
		return f, errors.New("limit must be a non-negative integer")
	}
	f.Limit = min(limit, maxLimit)

	days, err := intParam(r, "days", 0)
	if err != nil || days < 0 {
		return f, errors.New("days must be a non-negative integer")
	}
	if days > 0 {
		f.Since = time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	}
	return f, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
