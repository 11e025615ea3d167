// Package alarms manages price alarms attached to emitted signals.
package alarms

import (
	"context"
	"fmt"
	"math"
	"time"

	"crypto-signal-bot-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultTolerance is the relative distance to the target that counts as a hit.
const DefaultTolerance = 0.005

// Service creates and checks price alarms.
type Service struct {
	db        *gorm.DB
	tolerance float64
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(db *gorm.DB, tolerance float64, logger *zap.Logger) *Service {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Service{db: db, tolerance: tolerance, logger: logger.Named("alarms"), now: time.Now}
}

// Create registers a target alarm at the signal's entry price.
func (s *Service) Create(ctx context.Context, rec *models.SignalRecord) (*models.PriceAlarm, error) {
	alarm := &models.PriceAlarm{
		Coin:        rec.Coin,
		TargetPrice: rec.EntryPrice,
		AlarmType:   models.AlarmTypeTarget,
		SignalID:    rec.ID,
		SignalType:  rec.SignalType,
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(alarm).Error; err != nil {
		return nil, fmt.Errorf("failed to create alarm for %s: %w", rec.Coin, err)
	}
	s.logger.Debug("Alarm created",
		zap.String("symbol", rec.Coin),
		zap.String("signal_id", rec.ID),
		zap.Float64("target", rec.EntryPrice))
	return alarm, nil
}

// Active lists untriggered alarms. An empty coin lists every coin.
func (s *Service) Active(ctx context.Context, coin string) ([]models.PriceAlarm, error) {
	q := s.db.WithContext(ctx).Where("is_active = ? AND triggered = ?", true, false)
	if coin != "" {
		q = q.Where("coin = ?", coin)
	}
	var alarms []models.PriceAlarm
	if err := q.Order("created_at desc").Find(&alarms).Error; err != nil {
		return nil, fmt.Errorf("failed to list alarms: %w", err)
	}
	return alarms, nil
}

// Hit reports whether price is within tolerance of target.
func (s *Service) Hit(target, price float64) bool {
	return math.Abs(price-target) <= target*s.tolerance
}

// Check triggers every active alarm of coin that price has reached and
// returns the triggered alarms.
func (s *Service) Check(ctx context.Context, coin string, price float64) ([]models.PriceAlarm, error) {
	alarms, err := s.Active(ctx, coin)
	if err != nil {
		return nil, err
	}

	var triggered []models.PriceAlarm
	for _, a := range alarms {
		if !s.Hit(a.TargetPrice, price) {
			continue
		}
		at := s.now().UTC()
		res := s.db.WithContext(ctx).Model(&models.PriceAlarm{}).
			Where("id = ? AND triggered = ?", a.ID, false).
			Updates(map[string]any{
				"triggered":       true,
				"triggered_at":    at,
				"triggered_price": price,
				"is_active":       false,
			})
		if res.Error != nil {
			return triggered, fmt.Errorf("failed to trigger alarm %d: %w", a.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		a.Triggered = true
		a.IsActive = false
		a.TriggeredAt = &at
		a.TriggeredPrice = &price
		triggered = append(triggered, a)
		s.logger.Info("Alarm triggered",
			zap.String("symbol", coin),
			zap.Uint("alarm_id", a.ID),
			zap.Float64("target", a.TargetPrice),
			zap.Float64("price", price))
	}
	return triggered, nil
}

// Deactivate disables an alarm without triggering it.
func (s *Service) Deactivate(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.PriceAlarm{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate alarm %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("alarm %d not found", id)
	}
	return nil
}

// DeactivateForSignal disables the open alarms of a closed signal.
func (s *Service) DeactivateForSignal(ctx context.Context, signalID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.PriceAlarm{}).
		Where("signal_id = ? AND is_active = ?", signalID, true).
		Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to deactivate alarms of signal %s: %w", signalID, res.Error)
	}
	return res.RowsAffected, nil
}
