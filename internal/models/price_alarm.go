package models

import (
	"time"

	"gorm.io/gorm"
)

// AlarmTypeTarget fires when the price comes back to a signal's entry.
const AlarmTypeTarget = "target"

// PriceAlarm watches a coin for a target price.
type PriceAlarm struct {
	gorm.Model
	Coin           string     `gorm:"index;size:20;not null" json:"coin"`
	TargetPrice    float64    `gorm:"not null" json:"target_price"`
	AlarmType      string     `gorm:"size:16;not null" json:"alarm_type"`
	SignalID       string     `gorm:"index;size:36" json:"signal_id"`
	SignalType     string     `gorm:"size:8" json:"signal_type"`
	IsActive       bool       `gorm:"index;default:true" json:"is_active"`
	Triggered      bool       `json:"triggered"`
	TriggeredPrice *float64   `json:"triggered_price,omitempty"`
	TriggeredAt    *time.Time `json:"triggered_at,omitempty"`
}
