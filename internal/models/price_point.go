package models

import "time"

// PricePoint is one observed price of a symbol.
type PricePoint struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Symbol    string    `gorm:"index:idx_symbol_ts,priority:1;size:20;not null" json:"symbol"`
	Price     float64   `gorm:"not null" json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `gorm:"index:idx_symbol_ts,priority:2;not null" json:"timestamp"`
}
