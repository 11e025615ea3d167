package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"crypto-signal-bot-go/internal/alarms"
	"crypto-signal-bot-go/internal/coinmarketcap"
	"crypto-signal-bot-go/internal/config"
	"crypto-signal-bot-go/internal/database"
	"crypto-signal-bot-go/internal/history"
	"crypto-signal-bot-go/internal/indicators"
	"crypto-signal-bot-go/internal/metrics"
	"crypto-signal-bot-go/internal/models"
	"crypto-signal-bot-go/internal/notify"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// DefaultWindow is the number of history points fed to the indicators.
// It covers EMA200.
const DefaultWindow = 250

// Generator runs the fetch, score and persist pipeline for one symbol.
type Generator struct {
	client   coinmarketcap.RestClientInterface
	engine   *Engine
	history  *history.Store
	alarms   *alarms.Service
	repo     database.SignalRepository
	notifier notify.Notifier
	metrics  *metrics.Recorder
	logger   *zap.Logger
	window   int
	now      func() time.Time
}

// NewGenerator wires a pipeline. alarmService and recorder may be nil.
func NewGenerator(
	client coinmarketcap.RestClientInterface,
	store *history.Store,
	alarmService *alarms.Service,
	repo database.SignalRepository,
	notifier notify.Notifier,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *Generator {
	return &Generator{
		client:   client,
		engine:   NewEngine(),
		history:  store,
		alarms:   alarmService,
		repo:     repo,
		notifier: notifier,
		metrics:  recorder,
		logger:   logger.Named("generator"),
		window:   DefaultWindow,
		now:      time.Now,
	}
}

// WithWindow sets how many history points feed the indicators.
func (g *Generator) WithWindow(n int) *Generator {
	if n > 0 {
		g.window = n
	}
	return g
}

// Process runs the pipeline once and reports whether a signal was persisted.
// A malformed quote yields no signal and no error. Fetch and persistence
// failures are returned to the caller.
func (g *Generator) Process(ctx context.Context, sc config.SymbolConfig) (bool, error) {
	defer g.metrics.ObserveStage("pipeline", time.Now())
	log := g.logger.With(zap.String("symbol", sc.Coin))

	quote, err := g.client.GetQuote(ctx, sc.Coin)
	g.metrics.RecordFetch(sc.Coin, err == nil)
	if err != nil {
		var fe *coinmarketcap.FeatureExtractionError
		if errors.As(err, &fe) {
			log.Warn("No signal this cycle", zap.String("stage", "extract"), zap.Error(err))
			return false, nil
		}
		g.metrics.RecordError("fetch")
		return false, err
	}
	f := quote.Features
	g.metrics.RecordLastPrice(sc.Coin, f.Price)

	if err := g.history.Append(ctx, sc.Coin, f.Price, f.Volume24h); err != nil {
		g.metrics.RecordError("history")
		log.Warn("Failed to append price history", zap.String("stage", "history"), zap.Error(err))
	}
	g.checkAlarms(ctx, log, sc.Coin, f.Price)

	prices, err := g.history.Recent(ctx, sc.Coin, g.window)
	if err != nil {
		g.metrics.RecordError("history")
		return false, fmt.Errorf("failed to load history for %s: %w", sc.Coin, err)
	}
	ind := indicators.Compute(prices)

	sig := g.engine.Evaluate(f, ind, sc)
	if sig == nil {
		log.Debug("No signal",
			zap.Int("points", len(prices)),
			zap.String("threshold_mode", sc.ThresholdMode))
		return false, nil
	}

	rec, err := g.record(sc, f, ind, sig)
	if err != nil {
		return false, err
	}
	if err := g.repo.Insert(ctx, rec); err != nil {
		g.metrics.RecordError("persist")
		return false, err
	}
	g.metrics.RecordSignal(sc.Coin, rec.SignalType)
	log.Info("Signal generated",
		zap.String("id", rec.ID),
		zap.String("direction", rec.SignalType),
		zap.Float64("probability", rec.Probability),
		zap.Float64("threshold", rec.ThresholdUsed),
		zap.Float64("entry", rec.EntryPrice))

	if g.alarms != nil && rec.EntryPrice > 0 {
		if _, err := g.alarms.Create(ctx, rec); err != nil {
			g.metrics.RecordError("alarm")
			log.Warn("Failed to create alarm", zap.String("stage", "alarm"), zap.Error(err))
		}
	}

	if !g.notifier.Notify(ctx, rec) {
		log.Warn("Signal notification not delivered", zap.String("stage", "notify"), zap.String("id", rec.ID))
	}
	return true, nil
}

func (g *Generator) record(sc config.SymbolConfig, f models.Features, ind indicators.Result, sig *Signal) (*models.SignalRecord, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode features for %s: %w", sc.Coin, err)
	}
	rec := &models.SignalRecord{
		Coin:            sc.Coin,
		SignalType:      sig.Direction,
		Probability:     sig.Probability,
		ConfidenceScore: math.Floor(sig.Probability),
		ThresholdUsed:   sig.Threshold,
		Timeframe:       sc.Timeframe,
		Features:        datatypes.JSON(raw),
		RSI:             ind.RSI,
		RSISignal:       ind.RSISignal,
		MACD:            ind.MACD,
		MACDSignal:      ind.MACDSignal,
		EntryPrice:      sig.EntryPrice,
		TakeProfit:      sig.TakeProfit,
		StopLoss:        sig.StopLoss,
		SignalStatus:    models.StatusActive,
		CreatedAt:       g.now().UTC(),
	}
	return rec, nil
}

func (g *Generator) checkAlarms(ctx context.Context, log *zap.Logger, coin string, price float64) {
	if g.alarms == nil {
		return
	}
	triggered, err := g.alarms.Check(ctx, coin, price)
	if err != nil {
		g.metrics.RecordError("alarm")
		log.Warn("Failed to check alarms", zap.String("stage", "alarm"), zap.Error(err))
	}
	for i := range triggered {
		if !g.notifier.Send(ctx, notify.FormatAlarm(&triggered[i], price)) {
			log.Warn("Alarm notification not delivered", zap.Uint("alarm_id", triggered[i].ID))
		}
	}
}
