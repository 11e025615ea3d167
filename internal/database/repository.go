package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"crypto-signal-bot-go/internal/models"
)

// ErrNotFound is returned when a signal does not exist.
var ErrNotFound = errors.New("signal not found")

// PersistenceError wraps a failed write or read of signal records.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("signal repository %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SignalRepository stores signal records.
type SignalRepository interface {
	Insert(ctx context.Context, rec *models.SignalRecord) error
	Get(ctx context.Context, id string) (*models.SignalRecord, error)
	// UpdateStatus moves a record from one status to another in a single
	// conditional write. It reports false when the record was not in from.
	UpdateStatus(ctx context.Context, id, from, to string, profitLoss float64) (bool, error)
	Query(ctx context.Context, f Filter) ([]models.SignalRecord, error)
	Statistics(ctx context.Context, f Filter) (*Statistics, error)
}

// Filter narrows Query and Statistics. Zero fields do not filter.
type Filter struct {
	Coin   string
	Status string
	Since  time.Time
	Limit  int
}

// Statistics summarizes signal outcomes.
type Statistics struct {
	Total         int64   `json:"total"`
	Active        int64   `json:"active"`
	HitTP         int64   `json:"hit_tp"`
	HitSL         int64   `json:"hit_sl"`
	Expired       int64   `json:"expired"`
	WinRate       float64 `json:"win_rate"`
	AvgProfitLoss float64 `json:"avg_profit_loss"`
}

func (s *Statistics) add(status string, n int64) {
	s.Total += n
	switch status {
	case models.StatusActive:
		s.Active += n
	case models.StatusHitTP:
		s.HitTP += n
	case models.StatusHitSL:
		s.HitSL += n
	case models.StatusExpired:
		s.Expired += n
	}
}

// finish derives the win rate and rounds the averages.
func (s *Statistics) finish(avgProfitLoss *float64) {
	if closed := s.HitTP + s.HitSL; closed > 0 {
		s.WinRate = round2(float64(s.HitTP) / float64(closed) * 100)
	}
	if avgProfitLoss != nil {
		s.AvgProfitLoss = round2(*avgProfitLoss)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
