package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Signal directions.
const (
	SignalLong  = "LONG"
	SignalShort = "SHORT"
)

// Signal lifecycle states. Everything but StatusActive is terminal.
const (
	StatusActive  = "active"
	StatusHitTP   = "hit_tp"
	StatusHitSL   = "hit_sl"
	StatusExpired = "expired"
)

// SignalRecord is an emitted trade signal and its tracked outcome.
type SignalRecord struct {
	ID                string         `gorm:"primaryKey;size:36" json:"id"`
	Coin              string         `gorm:"index;size:20;not null" json:"coin"`
	SignalType        string         `gorm:"size:8;not null" json:"signal_type"`
	Probability       float64        `json:"probability"`
	ConfidenceScore   float64        `json:"confidence_score"`
	ThresholdUsed     float64        `json:"threshold_used"`
	Timeframe         string         `gorm:"size:8" json:"timeframe"`
	Features          datatypes.JSON `json:"features"`
	RSI               *float64       `json:"rsi,omitempty"`
	RSISignal         string         `gorm:"size:16" json:"rsi_signal,omitempty"`
	MACD              *float64       `json:"macd,omitempty"`
	MACDSignal        string         `gorm:"size:16" json:"macd_signal,omitempty"`
	EntryPrice        float64        `gorm:"not null" json:"entry_price"`
	TakeProfit        float64        `gorm:"column:tp" json:"tp"`
	StopLoss          float64        `json:"stop_loss"`
	SignalStatus      string         `gorm:"index;size:16;not null;default:active" json:"signal_status"`
	ProfitLossPercent *float64       `json:"profit_loss_percent,omitempty"`
	CreatedAt         time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the record left the active state.
func (r *SignalRecord) IsTerminal() bool {
	return r.SignalStatus != StatusActive
}

// DecodeFeatures unmarshals the stored feature snapshot.
func (r *SignalRecord) DecodeFeatures() (Features, error) {
	var f Features
	if len(r.Features) == 0 {
		return f, nil
	}
	err := json.Unmarshal(r.Features, &f)
	return f, err
}
