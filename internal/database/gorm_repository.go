package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"crypto-signal-bot-go/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormRepository is the SQLite-backed SignalRepository.
type GormRepository struct {
	db *gorm.DB
}

var _ SignalRepository = (*GormRepository)(nil)

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// prepare assigns the id, timestamps and initial status of a new record.
func prepare(rec *models.SignalRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.SignalStatus == "" {
		rec.SignalStatus = models.StatusActive
	}
}

func (r *GormRepository) Insert(ctx context.Context, rec *models.SignalRecord) error {
	prepare(rec)
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return &PersistenceError{Op: "insert", Err: err}
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*models.SignalRecord, error) {
	var rec models.SignalRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	return &rec, nil
}

func (r *GormRepository) UpdateStatus(ctx context.Context, id, from, to string, profitLoss float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.SignalRecord{}).
		Where("id = ? AND signal_status = ?", id, from).
		Updates(map[string]any{
			"signal_status":       to,
			"profit_loss_percent": profitLoss,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, &PersistenceError{Op: "update status", Err: res.Error}
	}
	return res.RowsAffected == 1, nil
}

func (r *GormRepository) scoped(ctx context.Context, f Filter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.SignalRecord{})
	if f.Coin != "" {
		q = q.Where("coin = ?", f.Coin)
	}
	if f.Status != "" {
		q = q.Where("signal_status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	return q
}

// Query returns matching records, newest first.
func (r *GormRepository) Query(ctx context.Context, f Filter) ([]models.SignalRecord, error) {
	q := r.scoped(ctx, f).Order("created_at desc")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var recs []models.SignalRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, &PersistenceError{Op: "query", Err: err}
	}
	return recs, nil
}

func (r *GormRepository) Statistics(ctx context.Context, f Filter) (*Statistics, error) {
	f.Status = ""

	var rows []struct {
		SignalStatus string
		N            int64
	}
	if err := r.scoped(ctx, f).
		Select("signal_status, COUNT(*) AS n").
		Group("signal_status").
		Scan(&rows).Error; err != nil {
		return nil, &PersistenceError{Op: "statistics", Err: err}
	}

	stats := &Statistics{}
	for _, row := range rows {
		stats.add(row.SignalStatus, row.N)
	}

	var avg sql.NullFloat64
	if err := r.scoped(ctx, f).
		Select("AVG(profit_loss_percent)").
		Where("signal_status <> ? AND profit_loss_percent IS NOT NULL", models.StatusActive).
		Row().Scan(&avg); err != nil {
		return nil, &PersistenceError{Op: "statistics", Err: err}
	}

	if avg.Valid {
		stats.finish(&avg.Float64)
	} else {
		stats.finish(nil)
	}
	return stats, nil
}
