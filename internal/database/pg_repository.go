package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crypto-signal-bot-go/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/datatypes"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS signal_records (
	id                  TEXT PRIMARY KEY,
	coin                TEXT NOT NULL,
	signal_type         TEXT NOT NULL,
	probability         DOUBLE PRECISION NOT NULL,
	confidence_score    DOUBLE PRECISION NOT NULL,
	threshold_used      DOUBLE PRECISION NOT NULL,
	timeframe           TEXT NOT NULL DEFAULT '',
	features            JSONB,
	rsi                 DOUBLE PRECISION,
	rsi_signal          TEXT NOT NULL DEFAULT '',
	macd                DOUBLE PRECISION,
	macd_signal         TEXT NOT NULL DEFAULT '',
	entry_price         DOUBLE PRECISION NOT NULL,
	tp                  DOUBLE PRECISION NOT NULL,
	stop_loss           DOUBLE PRECISION NOT NULL,
	signal_status       TEXT NOT NULL DEFAULT 'active',
	profit_loss_percent DOUBLE PRECISION,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signal_records_status ON signal_records (signal_status);
CREATE INDEX IF NOT EXISTS idx_signal_records_coin_created ON signal_records (coin, created_at DESC);
`

const pgColumns = `id, coin, signal_type, probability, confidence_score, threshold_used, timeframe,
	features, rsi, rsi_signal, macd, macd_signal, entry_price, tp, stop_loss,
	signal_status, profit_loss_percent, created_at, updated_at`

// PgRepository is the PostgreSQL-backed SignalRepository.
type PgRepository struct {
	pool *pgxpool.Pool
}

var _ SignalRepository = (*PgRepository)(nil)

// NewPgRepository connects to dsn and creates the schema when missing.
func NewPgRepository(ctx context.Context, dsn string) (*PgRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
	}
	return &PgRepository{pool: pool}, nil
}

func (r *PgRepository) Close() {
	r.pool.Close()
}

func (r *PgRepository) Insert(ctx context.Context, rec *models.SignalRecord) error {
	prepare(rec)
	var features []byte
	if len(rec.Features) > 0 {
		features = rec.Features
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO signal_records (`+pgColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		rec.ID, rec.Coin, rec.SignalType, rec.Probability, rec.ConfidenceScore, rec.ThresholdUsed, rec.Timeframe,
		features, rec.RSI, rec.RSISignal, rec.MACD, rec.MACDSignal, rec.EntryPrice, rec.TakeProfit, rec.StopLoss,
		rec.SignalStatus, rec.ProfitLossPercent, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return &PersistenceError{Op: "insert", Err: err}
	}
	return nil
}

func scanRecord(row pgx.Row) (*models.SignalRecord, error) {
	var rec models.SignalRecord
	var features []byte
	err := row.Scan(&rec.ID, &rec.Coin, &rec.SignalType, &rec.Probability, &rec.ConfidenceScore, &rec.ThresholdUsed,
		&rec.Timeframe, &features, &rec.RSI, &rec.RSISignal, &rec.MACD, &rec.MACDSignal, &rec.EntryPrice,
		&rec.TakeProfit, &rec.StopLoss, &rec.SignalStatus, &rec.ProfitLossPercent, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(features) > 0 {
		rec.Features = datatypes.JSON(features)
	}
	return &rec, nil
}

func (r *PgRepository) Get(ctx context.Context, id string) (*models.SignalRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM signal_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	return rec, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id, from, to string, profitLoss float64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE signal_records
		SET signal_status = $1, profit_loss_percent = $2, updated_at = $3
		WHERE id = $4 AND signal_status = $5`,
		to, profitLoss, time.Now().UTC(), id, from)
	if err != nil {
		return false, &PersistenceError{Op: "update status", Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

// where renders the filter as a WHERE clause with positional arguments.
func where(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Coin != "" {
		add("coin = $%d", f.Coin)
	}
	if f.Status != "" {
		add("signal_status = $%d", f.Status)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PgRepository) Query(ctx context.Context, f Filter) ([]models.SignalRecord, error) {
	clause, args := where(f)
	sql := `SELECT ` + pgColumns + ` FROM signal_records` + clause + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "query", Err: err}
	}
	defer rows.Close()

	var recs []models.SignalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "query", Err: err}
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "query", Err: err}
	}
	return recs, nil
}

func (r *PgRepository) Statistics(ctx context.Context, f Filter) (*Statistics, error) {
	f.Status = ""
	clause, args := where(f)

	rows, err := r.pool.Query(ctx, `SELECT signal_status, COUNT(*) FROM signal_records`+clause+` GROUP BY signal_status`, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "statistics", Err: err}
	}
	stats := &Statistics{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, &PersistenceError{Op: "statistics", Err: err}
		}
		stats.add(status, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "statistics", Err: err}
	}

	closedClause := " WHERE "
	if clause != "" {
		closedClause = clause + " AND "
	}
	var avg *float64
	err = r.pool.QueryRow(ctx, `SELECT AVG(profit_loss_percent) FROM signal_records`+closedClause+
		`signal_status <> 'active' AND profit_loss_percent IS NOT NULL`, args...).Scan(&avg)
	if err != nil {
		return nil, &PersistenceError{Op: "statistics", Err: err}
	}
	stats.finish(avg)
	return stats, nil
}
