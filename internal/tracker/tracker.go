// Package tracker closes open signals when their take profit, stop loss or
// expiry is reached.
package tracker

import (
	"context"
	"fmt"
	"math"
	"time"

	"crypto-signal-bot-go/internal/alarms"
	"crypto-signal-bot-go/internal/coinmarketcap"
	"crypto-signal-bot-go/internal/database"
	"crypto-signal-bot-go/internal/metrics"
	"crypto-signal-bot-go/internal/models"
	"crypto-signal-bot-go/internal/notify"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultExpiry   = 24 * time.Hour
)

// Stats summarizes one tracking pass.
type Stats struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	HitTP   int `json:"hit_tp"`
	HitSL   int `json:"hit_sl"`
	Expired int `json:"expired"`
	Errors  int `json:"errors"`
}

// Tracker re-prices active signals on a fixed interval.
type Tracker struct {
	client   coinmarketcap.RestClientInterface
	repo     database.SignalRepository
	alarms   *alarms.Service
	notifier notify.Notifier
	metrics  *metrics.Recorder
	logger   *zap.Logger
	interval time.Duration
	expiry   time.Duration
	now      func() time.Time
}

// NewTracker creates a Tracker. alarmService, notifier and recorder may be nil.
func NewTracker(
	client coinmarketcap.RestClientInterface,
	repo database.SignalRepository,
	alarmService *alarms.Service,
	notifier notify.Notifier,
	recorder *metrics.Recorder,
	interval, expiry time.Duration,
	logger *zap.Logger,
) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Tracker{
		client:   client,
		repo:     repo,
		alarms:   alarmService,
		notifier: notifier,
		metrics:  recorder,
		logger:   logger.Named("tracker"),
		interval: interval,
		expiry:   expiry,
		now:      time.Now,
	}
}

// Run tracks once immediately and then on every tick until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("Starting outcome tracker", zap.Duration("interval", t.interval))
	for {
		if _, err := t.TrackOnce(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error("Tracking pass failed", zap.String("stage", "track"), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			t.logger.Info("Stopping outcome tracker...")
			return
		case <-ticker.C:
		}
	}
}

// Evaluate decides the outcome of an active record at price. It returns
// false while the record should stay active.
func (t *Tracker) Evaluate(rec *models.SignalRecord, price float64, now time.Time) (status string, profitLoss float64, done bool) {
	return Evaluate(rec, price, now, t.expiry)
}

// Evaluate is the pure outcome rule used by Tracker.
func Evaluate(rec *models.SignalRecord, price float64, now time.Time, expiry time.Duration) (status string, profitLoss float64, done bool) {
	if rec.IsTerminal() || rec.EntryPrice <= 0 {
		return "", 0, false
	}
	entry := rec.EntryPrice
	short := rec.SignalType == models.SignalShort

	change := func(to float64) float64 {
		if short {
			return round2((entry - to) / entry * 100)
		}
		return round2((to - entry) / entry * 100)
	}

	switch {
	case !short && price >= rec.TakeProfit, short && price <= rec.TakeProfit:
		return models.StatusHitTP, change(rec.TakeProfit), true
	case !short && price <= rec.StopLoss, short && price >= rec.StopLoss:
		return models.StatusHitSL, change(rec.StopLoss), true
	case now.Sub(rec.CreatedAt) > expiry:
		return models.StatusExpired, change(price), true
	}
	return "", 0, false
}

// TrackOnce evaluates every active signal once. A price failure for one coin
// skips that coin's signals; the pass continues.
func (t *Tracker) TrackOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	recs, err := t.repo.Query(ctx, database.Filter{Status: models.StatusActive})
	if err != nil {
		return stats, fmt.Errorf("failed to load active signals: %w", err)
	}
	if len(recs) == 0 {
		return stats, nil
	}

	prices := make(map[string]float64)
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec := &recs[i]
		log := t.logger.With(zap.String("symbol", rec.Coin), zap.String("id", rec.ID))

		price, ok := prices[rec.Coin]
		if !ok {
			q, err := t.client.GetQuote(ctx, rec.Coin)
			if err != nil {
				stats.Errors++
				t.metrics.RecordError("track")
				log.Warn("Failed to price signal", zap.String("stage", "fetch"), zap.Error(err))
				continue
			}
			price = q.Price
			prices[rec.Coin] = price
		}
		stats.Checked++

		status, pl, done := t.Evaluate(rec, price, t.now())
		if !done {
			continue
		}
		applied, err := t.repo.UpdateStatus(ctx, rec.ID, models.StatusActive, status, pl)
		if err != nil {
			stats.Errors++
			t.metrics.RecordError("track")
			log.Error("Failed to update signal outcome", zap.String("stage", "persist"), zap.Error(err))
			continue
		}
		if !applied {
			log.Debug("Signal already closed")
			continue
		}

		stats.Updated++
		switch status {
		case models.StatusHitTP:
			stats.HitTP++
		case models.StatusHitSL:
			stats.HitSL++
		case models.StatusExpired:
			stats.Expired++
		}
		t.metrics.RecordOutcome(status)
		log.Info("Signal closed",
			zap.String("status", status),
			zap.Float64("price", price),
			zap.Float64("profit_loss", pl))

		if t.alarms != nil {
			if _, err := t.alarms.DeactivateForSignal(ctx, rec.ID); err != nil {
				log.Warn("Failed to deactivate alarms", zap.String("stage", "alarm"), zap.Error(err))
			}
		}
		if t.notifier != nil {
			t.notifier.Send(ctx, notify.FormatOutcome(rec, status, pl))
		}
	}

	t.logger.Info("Tracking pass complete",
		zap.Int("checked", stats.Checked),
		zap.Int("updated", stats.Updated),
		zap.Int("hit_tp", stats.HitTP),
		zap.Int("hit_sl", stats.HitSL),
		zap.Int("expired", stats.Expired))
	return stats, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
