package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"crypto-signal-bot-go/internal/config"
	"crypto-signal-bot-go/internal/database"
	"crypto-signal-bot-go/internal/logger"
	"go.uber.org/zap"
)

//go:embed web
var webFS embed.FS

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	repo, closeRepo, err := database.NewSignalRepository(context.Background(), cfg.Database, db, log)
	if err != nil {
		log.Fatal("Failed to open signal repository", zap.Error(err))
	}
	defer closeRepo()

	static, err := fs.Sub(webFS, "web")
	if err != nil {
		log.Fatal("Failed to load web assets", zap.Error(err))
	}

	// Setup HTTP server
	mux := http.NewServeMux()

	// Create a handler that has access to the logger and repository
	apiHandler := NewAPIHandler(log, repo)

	// API endpoints
	mux.HandleFunc("GET /api/signals", apiHandler.SignalsHandler)
	mux.HandleFunc("GET /api/statistics", apiHandler.StatisticsHandler)

	// Dashboard page
	mux.Handle("GET /", http.FileServer(http.FS(static)))

	addr := fmt.Sprintf(":%d", cfg.Server.UIPort)
	log.Info("Starting web server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("Web server failed", zap.Error(err))
	}
}
