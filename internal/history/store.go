// Package history keeps a bounded per-symbol price series.
package history

import (
	"context"
	"fmt"
	"time"

	"crypto-signal-bot-go/internal/models"
	"gorm.io/gorm"
)

// DefaultRetention is how long price points are kept.
const DefaultRetention = 90 * 24 * time.Hour

// Store is the gorm-backed price history. Each symbol is written by a single
// task, so appends of one symbol never race.
type Store struct {
	db        *gorm.DB
	retention time.Duration
	now       func() time.Time
}

// NewStore creates a Store. A non-positive retention falls back to DefaultRetention.
func NewStore(db *gorm.DB, retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{db: db, retention: retention, now: time.Now}
}

// Append records a price and prunes the symbol's points older than the retention.
func (s *Store) Append(ctx context.Context, symbol string, price, volume float64) error {
	return s.appendAt(ctx, symbol, price, volume, s.now())
}

func (s *Store) appendAt(ctx context.Context, symbol string, price, volume float64, ts time.Time) error {
	point := models.PricePoint{
		Symbol:    symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: ts.UTC(),
	}
	cutoff := s.now().Add(-s.retention).UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&point).Error; err != nil {
			return fmt.Errorf("failed to append price for %s: %w", symbol, err)
		}
		if err := tx.Where("symbol = ? AND timestamp < ?", symbol, cutoff).
			Delete(&models.PricePoint{}).Error; err != nil {
			return fmt.Errorf("failed to prune history for %s: %w", symbol, err)
		}
		return nil
	})
}

// Recent returns at most count of the latest prices, oldest first.
func (s *Store) Recent(ctx context.Context, symbol string, count int) ([]float64, error) {
	if count <= 0 {
		return nil, nil
	}
	var prices []float64
	err := s.db.WithContext(ctx).Model(&models.PricePoint{}).
		Where("symbol = ?", symbol).
		Order("timestamp desc, id desc").
		Limit(count).
		Pluck("price", &prices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent prices for %s: %w", symbol, err)
	}
	reverse(prices)
	return prices, nil
}

// Since returns every price recorded within d, oldest first.
func (s *Store) Since(ctx context.Context, symbol string, d time.Duration) ([]float64, error) {
	points, err := s.points(ctx, symbol, d)
	if err != nil {
		return nil, err
	}
	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}
	return prices, nil
}

func (s *Store) points(ctx context.Context, symbol string, d time.Duration) ([]models.PricePoint, error) {
	var points []models.PricePoint
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timestamp >= ?", symbol, s.now().Add(-d).UTC()).
		Order("timestamp asc, id asc").
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load prices for %s: %w", symbol, err)
	}
	return points, nil
}

// Purge deletes points of every symbol older than olderThan.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("timestamp < ?", s.now().Add(-olderThan).UTC()).
		Delete(&models.PricePoint{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge history: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Count returns the number of stored points of symbol.
func (s *Store) Count(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.PricePoint{}).Where("symbol = ?", symbol).Count(&n).Error
	return n, err
}

// Stats summarizes a symbol's prices over a window.
type Stats struct {
	Symbol        string    `json:"symbol"`
	DataPoints    int       `json:"data_points"`
	Min           float64   `json:"min"`
	Max           float64   `json:"max"`
	Avg           float64   `json:"avg"`
	First         float64   `json:"first"`
	Last          float64   `json:"last"`
	ChangePercent float64   `json:"change_percent"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
}

// Statistics returns min, max, average and change over the last d. It returns
// nil when no points fall in the window.
func (s *Store) Statistics(ctx context.Context, symbol string, d time.Duration) (*Stats, error) {
	points, err := s.points(ctx, symbol, d)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}

	st := &Stats{
		Symbol:     symbol,
		DataPoints: len(points),
		Min:        points[0].Price,
		Max:        points[0].Price,
		First:      points[0].Price,
		Last:       points[len(points)-1].Price,
		From:       points[0].Timestamp,
		To:         points[len(points)-1].Timestamp,
	}
	var sum float64
	for _, p := range points {
		sum += p.Price
		if p.Price < st.Min {
			st.Min = p.Price
		}
		if p.Price > st.Max {
			st.Max = p.Price
		}
	}
	st.Avg = sum / float64(len(points))
	if st.First != 0 {
		st.ChangePercent = (st.Last - st.First) / st.First * 100
	}
	return st, nil
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
