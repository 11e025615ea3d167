package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crypto-signal-bot-go/internal/database"
	"crypto-signal-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupHandler(t *testing.T) (*APIHandler, *database.GormRepository, time.Time) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	repo := database.NewGormRepository(db)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	h := NewAPIHandler(zap.NewNop(), repo)
	h.now = func() time.Time { return now }
	return h, repo, now
}

func TestStatisticsHandler(t *testing.T) {
	// Arrange
	h, repo, now := setupHandler(t)
	ctx := context.Background()
	recent := &models.SignalRecord{Coin: "BTC", SignalType: models.SignalLong, EntryPrice: 100, CreatedAt: now.Add(-time.Hour)}
	lastWeek := &models.SignalRecord{Coin: "BTC", SignalType: models.SignalLong, EntryPrice: 100, CreatedAt: now.Add(-3 * 24 * time.Hour)}
	old := &models.SignalRecord{Coin: "ETH", SignalType: models.SignalShort, EntryPrice: 10, CreatedAt: now.Add(-30 * 24 * time.Hour)}
	for _, r := range []*models.SignalRecord{recent, lastWeek, old} {
		require.NoError(t, repo.Insert(ctx, r))
	}
	_, err := repo.UpdateStatus(ctx, lastWeek.ID, models.StatusActive, models.StatusHitTP, 9)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/statistics", nil)

	// Act
	h.StatisticsHandler(rr, req)

	// Assert
	require.Equal(t, http.StatusOK, rr.Code)
	var resp StatisticsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Since24h.Total)
	assert.Equal(t, int64(2), resp.Since7d.Total)
	assert.Equal(t, int64(1), resp.Since7d.HitTP)
	assert.Equal(t, 100.0, resp.Since7d.WinRate)
	assert.Equal(t, int64(3), resp.AllTime.Total)
}

func TestSignalsHandler(t *testing.T) {
	h, repo, now := setupHandler(t)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, &models.SignalRecord{Coin: "BTC", SignalType: models.SignalLong, EntryPrice: 1, CreatedAt: now}))
	require.NoError(t, repo.Insert(ctx, &models.SignalRecord{Coin: "ETH", SignalType: models.SignalLong, EntryPrice: 1, CreatedAt: now}))

	t.Run("ByCoin", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.SignalsHandler(rr, httptest.NewRequest(http.MethodGet, "/api/signals?coin=eth", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var got []models.SignalRecord
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "ETH", got[0].Coin)
	})

	t.Run("BadLimit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.SignalsHandler(rr, httptest.NewRequest(http.MethodGet, "/api/signals?limit=-1", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
